package config

// SDKConfig holds the outbound transport settings shared by every backend client.
type SDKConfig struct {
	// ProxyURL is the URL of an optional proxy server to use for outbound requests.
	// Supported schemes are http, https and socks5.
	ProxyURL string `yaml:"proxy-url" json:"proxy-url"`

	// ConnectTimeout bounds each backend call, in seconds. <= 0 selects the default.
	ConnectTimeout int `yaml:"connect-timeout" json:"connect-timeout"`

	// RequestLog enables debug logging of backend request and response metadata.
	RequestLog bool `yaml:"request-log" json:"request-log"`
}
