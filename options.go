package relay

import (
	"crypto/tls"
	"time"

	"github.com/caarlos0/env/v11"
)

// DelayMode selects the reconnect back-off schedule.
type DelayMode string

const (
	DelayConstant    DelayMode = "constant"
	DelayLinear      DelayMode = "linear"
	DelayExponential DelayMode = "exponential"
)

// delay returns d_n for attempt n (0-indexed):
//
//	constant:    d0
//	linear:      d0 * (n+1)
//	exponential: d0 * 10^n
func (m DelayMode) delay(base time.Duration, n int) time.Duration {
	switch m {
	case DelayLinear:
		return base * time.Duration(n+1)
	case DelayExponential:
		mult := int64(1)
		for i := 0; i < n; i++ {
			mult *= 10
		}
		return base * time.Duration(mult)
	default:
		return base
	}
}

// Options holds every recognised configuration key.
// Defaults are documented per-field; construct with DefaultOptions() or
// OptionsFromEnv() and then apply functional Options.
type Options struct {
	Host  string `env:"RELAY_HOST" envDefault:"localhost"`
	Port  int    `env:"RELAY_PORT" envDefault:"4222"`
	User  string `env:"RELAY_USER"`
	Pass  string `env:"RELAY_PASS"`
	Token string `env:"RELAY_TOKEN"`
	JWT   string `env:"RELAY_JWT"`
	NKey  string `env:"RELAY_NKEY"`
	Seed  string `env:"RELAY_NKEY_SEED"`

	InboxPrefix string `env:"RELAY_INBOX_PREFIX" envDefault:"_INBOX"`

	PingInterval time.Duration `env:"RELAY_PING_INTERVAL" envDefault:"2s"`
	MaxPingsOut  int           `env:"RELAY_MAX_PINGS_OUT" envDefault:"2"`
	Timeout      time.Duration `env:"RELAY_TIMEOUT" envDefault:"1s"`

	Verbose   bool `env:"RELAY_VERBOSE"`
	Pedantic  bool `env:"RELAY_PEDANTIC"`
	EchoOwn   bool `env:"RELAY_ECHO"`

	TLSHandshakeFirst bool   `env:"RELAY_TLS_HANDSHAKE_FIRST"`
	TLSCertFile       string `env:"RELAY_TLS_CERT_FILE"`
	TLSKeyFile        string `env:"RELAY_TLS_KEY_FILE"`
	TLSCAFile         string `env:"RELAY_TLS_CA_FILE"`

	Reconnect     bool          `env:"RELAY_RECONNECT" envDefault:"true"`
	ReconnectWait time.Duration `env:"RELAY_RECONNECT_DELAY" envDefault:"1ms"`
	DelayMode     DelayMode     `env:"RELAY_RECONNECT_DELAY_MODE" envDefault:"constant"`
	MaxReconnects int           `env:"RELAY_MAX_RECONNECTS" envDefault:"-1"`

	PacketSize int `env:"RELAY_PACKET_SIZE"`

	Lang    string `env:"-"`
	Version string `env:"-"`

	SkipInvalidMessages bool `env:"RELAY_SKIP_INVALID_MESSAGES"`

	// ResubscribeOnReconnect controls whether subscriptions survive a
	// reconnect. When true (the default), every live subscription is
	// re-issued under its original sid after each reconnect; when false,
	// subscriptions are destroyed on reconnect and the caller must
	// resubscribe explicitly.
	ResubscribeOnReconnect bool `env:"-"`

	logger    Logger
	tlsConfig *tls.Config
	registerer prometheusRegisterer
}

// DefaultOptions returns the documented defaults.
func DefaultOptions() Options {
	return Options{
		Host:                   "localhost",
		Port:                   4222,
		InboxPrefix:            DefaultInboxPrefix,
		PingInterval:           DefaultPingInterval,
		MaxPingsOut:            DefaultMaxPingsOut,
		Timeout:                DefaultTimeout,
		Reconnect:              true,
		ReconnectWait:          DefaultReconnectDelay,
		DelayMode:              DelayConstant,
		MaxReconnects:          -1,
		ResubscribeOnReconnect: true,
		Lang:                   LangString,
		Version:                Version,
		logger:                 NewZerologLogger(),
	}
}

// OptionsFromEnv loads Options from the environment using
// github.com/caarlos0/env/v11, a struct-tag env loader. Unset fields keep
// the envDefault tag value; DelayMode/ResubscribeOnReconnect are
// normalized afterward since they are not trivially representable by
// plain env tags.
func OptionsFromEnv() (Options, error) {
	opts := DefaultOptions()
	if err := env.Parse(&opts); err != nil {
		return Options{}, err
	}
	if opts.DelayMode == _EMPTY_ {
		opts.DelayMode = DelayConstant
	}
	opts.ResubscribeOnReconnect = true
	opts.Lang = LangString
	opts.Version = Version
	return opts, nil
}

// Option configures Options, in the functional-options idiom this library
// also uses for its JetStream/publish/subscribe option types.
type Option func(*Options) error

func (o *Options) apply(opts []Option) error {
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt(o); err != nil {
			return err
		}
	}
	return nil
}

func Host(host string) Option {
	return func(o *Options) error { o.Host = host; return nil }
}

func Port(port int) Option {
	return func(o *Options) error { o.Port = port; return nil }
}

func UserInfo(user, pass string) Option {
	return func(o *Options) error { o.User = user; o.Pass = pass; return nil }
}

func Token(token string) Option {
	return func(o *Options) error { o.Token = token; return nil }
}

func UserJWTAndSeed(jwt, seed string) Option {
	return func(o *Options) error { o.JWT = jwt; o.Seed = seed; return nil }
}

func NKeyAndSeed(nkey, seed string) Option {
	return func(o *Options) error { o.NKey = nkey; o.Seed = seed; return nil }
}

func InboxPrefix(prefix string) Option {
	return func(o *Options) error { o.InboxPrefix = prefix; return nil }
}

func PingInterval(d time.Duration) Option {
	return func(o *Options) error { o.PingInterval = d; return nil }
}

func MaxPingsOutstanding(n int) Option {
	return func(o *Options) error { o.MaxPingsOut = n; return nil }
}

func Timeout(d time.Duration) Option {
	return func(o *Options) error { o.Timeout = d; return nil }
}

func Verbose() Option {
	return func(o *Options) error { o.Verbose = true; return nil }
}

func Pedantic() Option {
	return func(o *Options) error { o.Pedantic = true; return nil }
}

func TLSHandshakeFirst() Option {
	return func(o *Options) error { o.TLSHandshakeFirst = true; return nil }
}

func TLSCertAndKey(certFile, keyFile string) Option {
	return func(o *Options) error { o.TLSCertFile = certFile; o.TLSKeyFile = keyFile; return nil }
}

func TLSCaFile(caFile string) Option {
	return func(o *Options) error { o.TLSCAFile = caFile; return nil }
}

func TLSConfig(cfg *tls.Config) Option {
	return func(o *Options) error { o.tlsConfig = cfg; return nil }
}

func NoReconnect() Option {
	return func(o *Options) error { o.Reconnect = false; return nil }
}

func ReconnectDelay(mode DelayMode, base time.Duration) Option {
	return func(o *Options) error { o.DelayMode = mode; o.ReconnectWait = base; return nil }
}

func MaxReconnects(n int) Option {
	return func(o *Options) error { o.MaxReconnects = n; return nil }
}

func PacketSize(n int) Option {
	return func(o *Options) error { o.PacketSize = n; return nil }
}

func SkipInvalidMessages() Option {
	return func(o *Options) error { o.SkipInvalidMessages = true; return nil }
}

func WithLogger(l Logger) Option {
	return func(o *Options) error { o.logger = l; return nil }
}

func NoLogger() Option {
	return func(o *Options) error { o.logger = noopLogger{}; return nil }
}

func NoResubscribeOnReconnect() Option {
	return func(o *Options) error { o.ResubscribeOnReconnect = false; return nil }
}

// CredentialsFile loads a two-block NATS-style credentials file containing
// a "-----BEGIN NATS USER JWT-----" block and a
// "-----BEGIN USER NKEY SEED-----" block, and configures JWT+seed auth from
// it (credentials file parsing is treated as an out-of-scope
// collaborator; this is the minimal loader the Authenticator consumes).
func CredentialsFile(path string) Option {
	return func(o *Options) error {
		jwt, seed, err := parseCredentialsFile(path)
		if err != nil {
			return err
		}
		o.JWT = jwt
		o.Seed = seed
		return nil
	}
}
