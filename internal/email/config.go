package email

import "fmt"

// Config holds the outbound mail settings. It is embedded in the
// top-level config under the "smtp" YAML key.
type Config struct {
	SMTP SMTPConfig `yaml:",inline"`

	// From is the sender address (e.g., "Support <support@example.com>").
	From string `yaml:"from"`

	// BccOwner receives a blind copy of every outbound message. This
	// gives an audit trail of mail sent on behalf of the handlers.
	BccOwner string `yaml:"bcc_owner"`
}

// Configured reports whether enough is set to attempt delivery.
func (c Config) Configured() bool {
	return c.SMTP.Host != "" && c.From != ""
}

// ApplyDefaults fills zero-value fields with sensible defaults.
func (c *Config) ApplyDefaults() {
	if c.SMTP.Host == "" {
		return
	}
	if c.SMTP.Port == 0 {
		c.SMTP.Port = 587
	}
	// Everything except the implicit TLS port upgrades with STARTTLS.
	if !c.SMTP.StartTLS && c.SMTP.Port != 465 {
		c.SMTP.StartTLS = true
	}
}

// Validate checks that the configuration is internally consistent.
// An empty host disables mail and is valid.
func (c Config) Validate() error {
	if c.SMTP.Host == "" {
		return nil
	}
	if c.SMTP.Port < 1 || c.SMTP.Port > 65535 {
		return fmt.Errorf("smtp.port %d out of range (1-65535)", c.SMTP.Port)
	}
	if c.From == "" {
		return fmt.Errorf("smtp.from is required when smtp.host is set")
	}
	if c.SMTP.Username != "" && c.SMTP.Password == "" {
		return fmt.Errorf("smtp.password is required when smtp.username is set")
	}
	return nil
}

// SMTPConfig holds SMTP server connection parameters.
type SMTPConfig struct {
	// Host is the SMTP server hostname (e.g., "smtp.gmail.com").
	Host string `yaml:"host"`

	// Port is the SMTP server port. Default: 587 (submission with STARTTLS).
	Port int `yaml:"port"`

	// Username is the SMTP login username. Leave empty for servers that
	// accept unauthenticated relay from this host.
	Username string `yaml:"username"`

	// Password supports environment variable expansion via the config
	// loader (e.g., ${SMTP_PASSWORD}).
	Password string `yaml:"password"`

	// StartTLS controls whether to upgrade the connection with STARTTLS.
	// Default: true. Set to false for port 465 (implicit TLS).
	StartTLS bool `yaml:"starttls"`
}
