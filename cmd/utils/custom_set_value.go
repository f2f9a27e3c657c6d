package utils

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"github.com/spf13/viper"
	"github.com/stellar/go-stellar-sdk/support/config"
	"github.com/stellar/go-stellar-sdk/support/log"

	"github.com/abdulrahimiqbal/RoluATM-sub000/internal/crashtracker"
	"github.com/abdulrahimiqbal/RoluATM-sub000/internal/monitor"
)

func SetConfigOptionMetricType(co *config.ConfigOption) error {
	metricType := viper.GetString(co.Name)

	metricTypeParsed, err := monitor.ParseMetricType(metricType)
	if err != nil {
		return fmt.Errorf("couldn't parse metric type: %w", err)
	}

	*(co.ConfigKey.(*monitor.MetricType)) = metricTypeParsed
	return nil
}

func SetConfigOptionCrashTrackerType(co *config.ConfigOption) error {
	ctType := viper.GetString(co.Name)

	ctTypeParsed, err := crashtracker.ParseCrashTrackerType(ctType)
	if err != nil {
		return fmt.Errorf("couldn't parse crash tracker type: %w", err)
	}

	*(co.ConfigKey.(*crashtracker.CrashTrackerType)) = ctTypeParsed
	return nil
}

func SetConfigOptionLogLevel(co *config.ConfigOption) error {
	// parse string to logLevel object
	logLevelStr := viper.GetString(co.Name)
	logLevel, err := logrus.ParseLevel(logLevelStr)
	if err != nil {
		return fmt.Errorf("couldn't parse log level: %w", err)
	}

	// update the configKey
	key, ok := co.ConfigKey.(*logrus.Level)
	if !ok {
		return fmt.Errorf("configKey has an invalid type %T", co.ConfigKey)
	}
	*key = logLevel

	// Log for debugging
	if config.IsExplicitlySet(co) {
		log.Debugf("Setting log level to: %q", logLevel)
		log.DefaultLogger.SetLevel(*key)
	} else {
		log.Debugf("Using default log level: %q", logLevel)
	}
	return nil
}

func SetCorsAllowedOrigins(co *config.ConfigOption) error {
	corsAllowedOriginsOptions := viper.GetString(co.Name)

	if corsAllowedOriginsOptions == "" {
		return fmt.Errorf("cors allowed addresses cannot be empty")
	}

	corsAllowedOrigins := strings.Split(corsAllowedOriginsOptions, ",")

	// validate addresses
	for _, address := range corsAllowedOrigins {
		_, err := url.ParseRequestURI(address)
		if err != nil {
			return fmt.Errorf("error parsing cors addresses: %w", err)
		}
		if address == "*" {
			log.Warn(`The value "*" for the CORS Allowed Origins is too permissive and not recommended.`)
		}
	}

	key, ok := co.ConfigKey.(*[]string)
	if !ok {
		return fmt.Errorf("configKey has an invalid type %T", co.ConfigKey)
	}
	*key = corsAllowedOrigins
	return nil
}

// SetConfigOptionDecimal parses a money-valued config option. Amounts are
// carried as strings so binary floating point never touches them.
func SetConfigOptionDecimal(co *config.ConfigOption) error {
	raw := viper.GetString(co.Name)

	value, err := decimal.NewFromString(raw)
	if err != nil {
		return fmt.Errorf("couldn't parse %s as a decimal: %w", co.Name, err)
	}

	key, ok := co.ConfigKey.(*decimal.Decimal)
	if !ok {
		return fmt.Errorf("configKey has an invalid type %T", co.ConfigKey)
	}
	*key = value
	return nil
}
