package vault

import (
	"net/url"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/jmcleod/ironkey/entry"
)

const (
	MaxNameLength  = 256
	MaxFieldSize   = 64 << 10
	MaxURLLength   = 2048
	maxFieldsTotal = 5 * MaxFieldSize
)

func validateFields(f entry.Fields) error {
	name := strings.TrimSpace(f.Name)
	if name == "" {
		return validationErrorf("name must not be empty")
	}
	if len(f.Name) > MaxNameLength {
		return validationErrorf("name exceeds maximum length of %d", MaxNameLength)
	}
	for _, r := range f.Name {
		if unicode.IsControl(r) {
			return validationErrorf("name contains control character")
		}
	}

	values := map[string]string{
		"name":        f.Name,
		"username":    f.Username,
		"password":    f.Password,
		"description": f.Description,
		"website_url": f.WebsiteURL,
	}
	total := 0
	for label, v := range values {
		if !utf8.ValidString(v) {
			return validationErrorf("%s contains invalid UTF-8", label)
		}
		if len(v) > MaxFieldSize {
			return validationErrorf("%s size %d exceeds maximum of %d bytes", label, len(v), MaxFieldSize)
		}
		total += len(v)
	}
	if total > maxFieldsTotal {
		return validationErrorf("entry size %d exceeds maximum of %d bytes", total, maxFieldsTotal)
	}

	if f.WebsiteURL != "" {
		if len(f.WebsiteURL) > MaxURLLength {
			return validationErrorf("website url exceeds maximum length of %d", MaxURLLength)
		}
		u, err := url.Parse(f.WebsiteURL)
		if err != nil || u.Host == "" {
			return validationErrorf("website url %q is not an absolute url", f.WebsiteURL)
		}
	}
	return nil
}
