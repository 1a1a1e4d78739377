package enums

import "fmt"

// Destination maps to the outbox destination_type enum in Postgres.
type Destination string

const (
	DestinationWebhook        Destination = "webhook"
	DestinationEmail          Destination = "email"
	DestinationSMS            Destination = "sms"
	DestinationPaymentGateway Destination = "payment_gateway"
	DestinationAnalytics      Destination = "analytics"
	DestinationNotification   Destination = "notification"
)

var validDestinations = []Destination{
	DestinationWebhook,
	DestinationEmail,
	DestinationSMS,
	DestinationPaymentGateway,
	DestinationAnalytics,
	DestinationNotification,
}

// IsValid reports whether the value matches the canonical destination enum.
func (d Destination) IsValid() bool {
	for _, candidate := range validDestinations {
		if candidate == d {
			return true
		}
	}
	return false
}

// ParseDestination converts raw input into Destination.
func ParseDestination(value string) (Destination, error) {
	for _, candidate := range validDestinations {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid destination %q", value)
}
