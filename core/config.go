package core

import "time"

// ACLMode selects the account-creation default for the access-list-mode bit.
// Duplicated name intentionally mirrors the SessionState-style string enums
// in const.go.
const (
	ACLModeNameExplicitDeny  = "explicit_deny"
	ACLModeNameExplicitAllow = "explicit_allow"
)

// Config is the mediator's top-level typed configuration, loaded from YAML
// by x/util and overridable per-field from the environment (spec §6 "every
// setting is environment-overridable").
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Mediator MediatorConfig `yaml:"mediator"`
	Policy   PolicyConfig   `yaml:"policy"`
	TTL      TTLConfig      `yaml:"ttl"`
	Queue    QueueConfig    `yaml:"queue"`
	Caps     CapsConfig     `yaml:"caps"`
	ACL      ACLConfig      `yaml:"acl"`
	Expiry   ExpiryConfig   `yaml:"expiry"`
}

// ExpiryConfig tunes the periodic sweeper of spec §4.8.
type ExpiryConfig struct {
	SweepInterval  time.Duration `yaml:"sweepInterval"`
	SweepBatchSize int64         `yaml:"sweepBatchSize"`
}

type ServerConfig struct {
	ListenAddr      string `yaml:"listenAddr"`
	PathPrefix      string `yaml:"pathPrefix"`
	TLSCert         string `yaml:"tlsCert"`
	TLSKey          string `yaml:"tlsKey"`
	Dsn             string `yaml:"dsn"`
	RedisAddr       string `yaml:"redisAddr"`
	MemcachedAddr   string `yaml:"memcachedAddr"`
	TraceEndpoint   string `yaml:"traceEndpoint"`
	EnableTrace     bool   `yaml:"enableTrace"`
	LogPath         string `yaml:"logPath"`
}

type MediatorConfig struct {
	DID              string   `yaml:"did"`
	ServiceEndpoint  string   `yaml:"serviceEndpoint"`
	PrivateKeyJWK    string   `yaml:"privateKeyJWK"`
	TokenSigningKey  string   `yaml:"tokenSigningKey"`
	BlockList        []string `yaml:"blockList"`
}

// PolicyConfig holds the boolean policy switches of spec §6.
type PolicyConfig struct {
	BlockAnonymousOuterEnvelope bool `yaml:"blockAnonymousOuterEnvelope"`
	ForceSessionDIDMatch        bool `yaml:"forceSessionDIDMatch"`
	BlockRemoteAdminMsgs        bool `yaml:"blockRemoteAdminMsgs"`
	LocalDirectDeliveryAllowed  bool `yaml:"localDirectDeliveryAllowed"`
	LocalDirectDeliveryAllowAnon bool `yaml:"localDirectDeliveryAllowAnon"`
	SuppressForwardFailureNotice bool `yaml:"suppressForwardFailureNotice"`

	ACLManagementRequestType  string `yaml:"aclManagementRequestType"`
	ACLManagementResponseType string `yaml:"aclManagementResponseType"`
}

type TTLConfig struct {
	AccessToken    time.Duration `yaml:"accessToken"`
	RefreshToken   time.Duration `yaml:"refreshToken"`
	SessionIdle    time.Duration `yaml:"sessionIdle"`
	AdminMessages  time.Duration `yaml:"adminMessages"`
	MessageExpiry  time.Duration `yaml:"messageExpiry"`
	OOBInvite      time.Duration `yaml:"oobInvite"`
	ForwardHorizon time.Duration `yaml:"forwardHorizon"`
}

type QueueConfig struct {
	SendSoft         int64 `yaml:"sendSoft"`
	SendHard         int64 `yaml:"sendHard"`
	ReceiveSoft      int64 `yaml:"receiveSoft"`
	ReceiveHard      int64 `yaml:"receiveHard"`
	ForwardCapacity  int64 `yaml:"forwardCapacity"`
	AccessListMax    int   `yaml:"accessListMax"`
}

type CapsConfig struct {
	MaxEnvelopeBytes    int64 `yaml:"maxEnvelopeBytes"`
	MaxRecipients       int   `yaml:"maxRecipients"`
	MaxKeysPerRecipient int   `yaml:"maxKeysPerRecipient"`
	MaxCryptoOps        int   `yaml:"maxCryptoOps"`
	MaxPickupList       int   `yaml:"maxPickupList"`
	MaxDeleteBatch       int   `yaml:"maxDeleteBatch"`
}

type ACLConfig struct {
	Mode             string `yaml:"mode"` // "explicit_deny" | "explicit_allow"
	GlobalDefaultACL string `yaml:"globalDefaultACL"`
}

// Validate enforces the single documented startup invariant of spec §9
// open question (b): block_anonymous_outer_envelope=false combined with
// force_session_did_match=true can never produce a coherent session binding
// (an anonymous outer envelope carries no signing DID to match against the
// session), so it is rejected before the server binds.
func (c Config) Validate() error {
	if !c.Policy.BlockAnonymousOuterEnvelope && c.Policy.ForceSessionDIDMatch {
		return ErrInvalidConfig{Reason: "forceSessionDIDMatch requires blockAnonymousOuterEnvelope"}
	}
	return nil
}

// Defaults returns the documented defaults of spec §6, applied before YAML
// decode so every field not present in the file still has a sane value.
func Defaults() Config {
	return Config{
		Server: ServerConfig{
			ListenAddr: ":8443",
			PathPrefix: "/mediator/v1",
		},
		Policy: PolicyConfig{
			BlockAnonymousOuterEnvelope: true,
			ForceSessionDIDMatch:        false,
			BlockRemoteAdminMsgs:        true,
			LocalDirectDeliveryAllowed:  true,
			LocalDirectDeliveryAllowAnon: false,
			ACLManagementRequestType:  "https://didcomm.org/mediator-acl/1.0/acl-management",
			ACLManagementResponseType: "https://ns.affinidi.com/mediator-acl/1.0/acl-management-response",
		},
		TTL: TTLConfig{
			AccessToken:    900 * time.Second,
			RefreshToken:   86400 * time.Second,
			SessionIdle:    5 * time.Minute,
			AdminMessages:  3 * time.Second,
			MessageExpiry:  14 * 24 * time.Hour,
			OOBInvite:      7 * 24 * time.Hour,
			ForwardHorizon: 24 * time.Hour,
		},
		Queue: QueueConfig{
			SendSoft:        1000,
			SendHard:        5000,
			ReceiveSoft:     1000,
			ReceiveHard:     5000,
			ForwardCapacity: 10000,
			AccessListMax:   1000,
		},
		Caps: CapsConfig{
			MaxEnvelopeBytes:    2 * 1024 * 1024,
			MaxRecipients:       100,
			MaxKeysPerRecipient: 10,
			MaxCryptoOps:        1000,
			MaxPickupList:       100,
			MaxDeleteBatch:      100,
		},
		ACL: ACLConfig{
			Mode:             ACLModeNameExplicitDeny,
			GlobalDefaultACL: ACLRuleDenyAll,
		},
		Expiry: ExpiryConfig{
			SweepInterval:  60 * time.Second,
			SweepBatchSize: 500,
		},
	}
}

// ErrInvalidConfig is a fatal startup error (spec §7 "Fatal (server-side)").
type ErrInvalidConfig struct {
	Reason string
}

func (e ErrInvalidConfig) Error() string { return "invalid configuration: " + e.Reason }
