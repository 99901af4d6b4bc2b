package services

import (
	"fmt"
	"html"
	"strings"
	"unicode/utf8"

	"github.com/microcosm-cc/bluemonday"
	"golang.org/x/text/width"

	domain "github.com/productshop/api/internal/domain"
)

const maxRequestNoteRunes = 200

var requestNotePolicy = bluemonday.StrictPolicy()

// sanitizeRequestNote strips markup from the delivery note and enforces its length limit.
func sanitizeRequestNote(raw string) (string, error) {
	cleaned := strings.TrimSpace(html.UnescapeString(requestNotePolicy.Sanitize(raw)))
	if utf8.RuneCountInString(cleaned) > maxRequestNoteRunes {
		return "", fmt.Errorf("%w: request note must be at most %d characters", ErrOrderInvalidInput, maxRequestNoteRunes)
	}
	return cleaned, nil
}

// normalizeShippingProfile trims every field and folds full-width digits in zip and phone.
func normalizeShippingProfile(profile ShippingProfile) (ShippingProfile, error) {
	out := ShippingProfile{
		RecipientName: strings.TrimSpace(profile.RecipientName),
		ZipCode:       strings.TrimSpace(width.Fold.String(profile.ZipCode)),
		Address:       strings.TrimSpace(profile.Address),
		Phone:         strings.TrimSpace(width.Fold.String(profile.Phone)),
	}
	switch {
	case out.RecipientName == "":
		return ShippingProfile{}, fmt.Errorf("%w: recipient name is required", ErrOrderInvalidInput)
	case out.ZipCode == "":
		return ShippingProfile{}, fmt.Errorf("%w: zip code is required", ErrOrderInvalidInput)
	case out.Address == "":
		return ShippingProfile{}, fmt.Errorf("%w: address is required", ErrOrderInvalidInput)
	case out.Phone == "":
		return ShippingProfile{}, fmt.Errorf("%w: phone is required", ErrOrderInvalidInput)
	}
	return out, nil
}

func parsePaymentMethod(raw string) (PaymentMethod, error) {
	if strings.TrimSpace(raw) == "" {
		return "", fmt.Errorf("%w: payment method is required", ErrOrderInvalidInput)
	}
	method, ok := domain.ParsePaymentMethod(raw)
	if !ok {
		return "", fmt.Errorf("%w: unsupported payment method %q", ErrOrderInvalidInput, raw)
	}
	return method, nil
}
