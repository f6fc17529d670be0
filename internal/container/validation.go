package container

import (
	"regexp"
	"strings"

	"github.com/blobgate/blobgate/internal/storage"
)

// S3 bucket naming rules
const (
	MinS3NameLength = 3
	MaxS3NameLength = 63
	MaxNameLength   = 255
)

var (
	validS3NameRegex         = regexp.MustCompile(`^[a-z0-9]([a-z0-9.\-]*[a-z0-9])?$`)
	invalidConsecutiveDashes = regexp.MustCompile(`--`)
	ipAddressPattern         = regexp.MustCompile(`^(\d{1,3}\.){3}\d{1,3}$`)
)

// ValidateName applies the rules every backend shares
func ValidateName(name string) error {
	if name == "" {
		return storage.BadRequest("No container name provided")
	}
	if len(name) > MaxNameLength {
		return storage.BadRequest("Container name '%s' is longer than %d characters", name, MaxNameLength)
	}
	if strings.HasPrefix(name, ".") || strings.HasPrefix(name, "_") {
		return storage.BadRequest("Container name '%s' cannot start with '.' or '_'", name)
	}
	if strings.ContainsAny(name, "/\\:") {
		return storage.BadRequest("Container name '%s' cannot contain '/', '\\' or ':'", name)
	}
	for _, r := range name {
		if r < 0x20 || r == 0x7f {
			return storage.BadRequest("Container name '%s' contains control characters", name)
		}
	}
	return nil
}

// ValidateS3Name validates a name according to S3 bucket rules
func ValidateS3Name(name string) error {
	if err := ValidateName(name); err != nil {
		return err
	}

	if len(name) < MinS3NameLength || len(name) > MaxS3NameLength {
		return storage.BadRequest("Container name must be between %d and %d characters", MinS3NameLength, MaxS3NameLength)
	}

	if !validS3NameRegex.MatchString(name) {
		return storage.BadRequest("Container name must start and end with alphanumeric characters and contain only lowercase letters, numbers, dots and hyphens")
	}

	if invalidConsecutiveDashes.MatchString(name) {
		return storage.BadRequest("Container name cannot contain consecutive dashes")
	}

	if ipAddressPattern.MatchString(name) {
		return storage.BadRequest("Container name cannot be formatted as IP address")
	}

	// reserved for internationalized domains
	if strings.HasPrefix(name, "xn--") {
		return storage.BadRequest("Container name cannot start with 'xn--'")
	}

	if strings.HasSuffix(name, "-s3alias") {
		return storage.BadRequest("Container name cannot end with '-s3alias'")
	}

	return nil
}
