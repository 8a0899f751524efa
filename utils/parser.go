package utils

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/vitwit/x402gate/types"
)

var validate *validator.Validate

func init() {
	validate = validator.New()

	// Register custom validators
	_ = validate.RegisterValidation("amount", validateAmountTag)
	_ = validate.RegisterValidation("network", validateNetworkTag)
}

// ValidateStruct validates v against its struct tags.
func ValidateStruct(v any) error {
	return validate.Struct(v)
}

// x402ConfigFile is the on-disk shape of X402Config.
type x402ConfigFile struct {
	DefaultTimeout string `json:"defaultTimeout"`
	LogLevel       string `json:"logLevel" validate:"omitempty,oneof=debug info warn error"`
	EnableMetrics  bool   `json:"enableMetrics"`
	Networks       []struct {
		Network string `json:"network" validate:"required,network"`
		URL     string `json:"url" validate:"omitempty,url"`
	} `json:"networks" validate:"dive"`
}

// ParseX402Config parses X402Config from JSON
func ParseX402Config(data []byte) (*types.X402Config, error) {
	var file x402ConfigFile

	if err := json.Unmarshal(data, &file); err != nil {
		return nil, &types.X402Error{
			Code:    types.CodeInvalidRequirements,
			Message: "failed to parse x402 config",
			Err:     err,
		}
	}

	if err := validate.Struct(&file); err != nil {
		return nil, &types.X402Error{
			Code:    types.CodeSchemaViolation,
			Message: "x402 config validation failed",
			Err:     err,
		}
	}

	config := &types.X402Config{
		LogLevel:      file.LogLevel,
		EnableMetrics: file.EnableMetrics,
	}
	if file.DefaultTimeout != "" {
		d, err := time.ParseDuration(file.DefaultTimeout)
		if err != nil {
			return nil, &types.X402Error{
				Code:    types.CodeSchemaViolation,
				Message: fmt.Sprintf("invalid defaultTimeout %q", file.DefaultTimeout),
				Err:     err,
			}
		}
		config.DefaultTimeout = d
	}
	for _, n := range file.Networks {
		config.Networks = append(config.Networks, types.NetworkConfig{
			Network: types.Network(n.Network),
			URL:     n.URL,
		})
	}

	return config, nil
}

// Custom validator functions
func validateAmountTag(fl validator.FieldLevel) bool {
	_, err := ValidateAmount(fl.Field().String())
	return err == nil
}

func validateNetworkTag(fl validator.FieldLevel) bool {
	return types.Network(fl.Field().String()).IsSupported()
}
