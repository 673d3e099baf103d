// Package config holds the process configuration and fills it from
// command line flags.
package config

import (
	"errors"
	"fmt"
	"reflect"
	"strconv"
	"time"

	"github.com/urfave/cli/v3"
)

var ErrCannotParseFlags = errors.New("cannot parse flags")

type Config struct {
	LogLevel string `flag:"log-level"`
	Addr     string `flag:"addr"`

	DB          string `flag:"db"`
	PostgresURL string `flag:"postgres-url"`

	Account       string `flag:"account"`
	MastodonURL   string `flag:"mastodon-url"`
	MastodonToken string `flag:"mastodon-token"`
	AccountID     string `flag:"account-id"`
	BlueskyURL    string `flag:"bluesky-url"`
	BlueskyToken  string `flag:"bluesky-token"`
	BlueskyActor  string `flag:"bluesky-actor"`
	ForYouURL     string `flag:"for-you-url"`
	Streaming     bool   `flag:"streaming"`

	NewestWindow          int           `flag:"newest-window"`
	ShowOriginalTimestamp bool          `flag:"show-original-timestamp"`
	ItemSyncDelay         time.Duration `flag:"item-sync-delay"`
}

var durationType = reflect.TypeOf(time.Duration(0))

// ParseFlags copies the values of c's flags into the fields of s tagged
// with the flag name.
func ParseFlags(c *cli.Command, s any) error {
	v := reflect.ValueOf(s)
	if v.Kind() != reflect.Ptr {
		return fmt.Errorf("%w: expected pointer to struct, got %T", ErrCannotParseFlags, s)
	}
	v = v.Elem()
	if v.Kind() != reflect.Struct {
		return fmt.Errorf("%w: expected pointer to struct, got pointer to %s", ErrCannotParseFlags, v.Kind())
	}

	t := v.Type()
	for i := 0; i < t.NumField(); i++ {
		field := t.Field(i)
		fieldValue := v.Field(i)
		if !fieldValue.CanSet() {
			continue
		}
		flagName := field.Tag.Get("flag")
		if flagName == "" {
			continue
		}

		switch {
		case field.Type == durationType:
			fieldValue.SetInt(int64(c.Duration(flagName)))
		case field.Type.Kind() == reflect.String:
			fieldValue.SetString(c.String(flagName))
		case field.Type.Kind() == reflect.Bool:
			fieldValue.SetBool(c.Bool(flagName))
		case field.Type.Kind() >= reflect.Int && field.Type.Kind() <= reflect.Int64:
			fieldValue.SetInt(int64(c.Int(flagName)))
		case field.Type.Kind() >= reflect.Uint && field.Type.Kind() <= reflect.Uint64:
			fieldValue.SetUint(uint64(c.Uint(flagName)))
		case field.Type.Kind() == reflect.Float32 || field.Type.Kind() == reflect.Float64:
			fieldValue.SetFloat(c.Float64(flagName))
		default:
			strVal := c.String(flagName)
			if strVal == "" {
				continue
			}
			if err := setValueFromString(fieldValue, strVal); err != nil {
				return fmt.Errorf("%w: failed to set field %s: %w", ErrCannotParseFlags, field.Name, err)
			}
		}
	}
	return nil
}

func setValueFromString(fieldValue reflect.Value, strVal string) error {
	switch fieldValue.Kind() {
	case reflect.String:
		fieldValue.SetString(strVal)
	case reflect.Bool:
		boolVal, err := strconv.ParseBool(strVal)
		if err != nil {
			return err
		}
		fieldValue.SetBool(boolVal)
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		intVal, err := strconv.ParseInt(strVal, 10, 64)
		if err != nil {
			return err
		}
		fieldValue.SetInt(intVal)
	default:
		return fmt.Errorf("%w: unsupported type: %s", ErrCannotParseFlags, fieldValue.Kind())
	}
	return nil
}
