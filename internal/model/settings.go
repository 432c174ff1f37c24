package model

import (
	"fmt"
	"strconv"
	"time"
)

const ProviderSMTP = "smtp"

// EmailSettings is the delivery configuration. Exactly one row is active.
type EmailSettings struct {
	ID               int64     `db:"id" json:"id"`
	ProviderType     string    `db:"provider_type" json:"provider_type"`
	ProviderConfig   JSONMap   `db:"provider_config" json:"-"`
	DefaultFromName  string    `db:"default_from_name" json:"default_from_name"`
	DefaultFromEmail string    `db:"default_from_email" json:"default_from_email"`
	DefaultReplyTo   string    `db:"default_reply_to" json:"default_reply_to"`
	SendLimit        int       `db:"send_limit" json:"send_limit"`
	IsActive         bool      `db:"is_active" json:"is_active"`
	CreatedAt        time.Time `db:"created_at" json:"created_at"`
	UpdatedAt        time.Time `db:"updated_at" json:"updated_at"`
}

// ReplyTo falls back to the sender address.
func (s *EmailSettings) ReplyTo() string {
	if s.DefaultReplyTo != "" {
		return s.DefaultReplyTo
	}
	return s.DefaultFromEmail
}

// SMTPSettings is the provider_config payload for the smtp provider.
type SMTPSettings struct {
	Host     string
	Port     int
	Username string
	Password string
	Secure   bool
}

// SMTP extracts SMTP credentials, requiring host, port, username and password.
func (s *EmailSettings) SMTP() (SMTPSettings, error) {
	cfg := s.ProviderConfig
	out := SMTPSettings{
		Host:     stringValue(cfg["host"]),
		Username: stringValue(cfg["username"]),
		Password: stringValue(cfg["password"]),
	}
	out.Port = intValue(cfg["port"])
	if secure, ok := cfg["secure"].(bool); ok {
		out.Secure = secure
	} else {
		out.Secure = out.Port == 465
	}

	switch {
	case out.Host == "":
		return out, fmt.Errorf("missing SMTP configuration: host")
	case out.Port <= 0:
		return out, fmt.Errorf("missing SMTP configuration: port")
	case out.Username == "":
		return out, fmt.Errorf("missing SMTP configuration: username")
	case out.Password == "":
		return out, fmt.Errorf("missing SMTP configuration: password")
	}
	return out, nil
}

func stringValue(v interface{}) string {
	switch t := v.(type) {
	case string:
		return t
	case nil:
		return ""
	default:
		return fmt.Sprint(t)
	}
}

func intValue(v interface{}) int {
	switch t := v.(type) {
	case float64:
		return int(t)
	case int:
		return t
	case int64:
		return int(t)
	case string:
		n, _ := strconv.Atoi(t)
		return n
	}
	return 0
}
