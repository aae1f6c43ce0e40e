package config

// SDKConfig holds settings shared by every outbound HTTP client the session manager
// creates. It is embedded inline in Config.
type SDKConfig struct {
	// ProxyURL is the URL of an optional proxy server used for identity-provider requests.
	// Supported schemes are socks5, http and https.
	ProxyURL string `yaml:"proxy-url" json:"proxy-url" env:"PROXY_URL"`

	// RequestLog enables debug logging of identity-provider requests (URLs are masked).
	RequestLog bool `yaml:"request-log" json:"request-log" env:"REQUEST_LOG"`
}
