package util

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/go-yaml/yaml"

	"github.com/affinidi/didcomm-mediator/core"
)

// LoadConfig loads the mediator's configuration the way the teacher's own
// `Config.Load` does (YAML decode into a typed struct), starting from
// core.Defaults() rather than a zero value so every field not present in
// the file still has a sane default, then applies an environment-variable
// overlay per spec §6 ("every setting is environment-overridable").
func LoadConfig(path string) (core.Config, error) {
	config := core.Defaults()

	f, err := os.Open(path)
	if err != nil {
		return core.Config{}, fmt.Errorf("failed to open configuration file: %w", err)
	}
	defer f.Close()

	if err := yaml.NewDecoder(f).Decode(&config); err != nil {
		return core.Config{}, fmt.Errorf("failed to decode configuration file: %w", err)
	}

	applyEnvOverlay(&config)

	if err := config.Validate(); err != nil {
		return core.Config{}, err
	}

	return config, nil
}

// envPrefix namespaces every environment override so an operator can tell
// at a glance which variables this process reads.
const envPrefix = "MEDIATOR_"

// applyEnvOverlay overlays MEDIATOR_<SECTION>_<FIELD> environment variables
// onto the decoded config, field by field. There is no ecosystem
// env-config library in the retrieval pack, so this is hand-written the
// same way the teacher's own loader is hand-written — one explicit
// os.Getenv per field rather than a reflection-driven walk, keeping every
// override visible at a glance and trivially greppable.
func applyEnvOverlay(c *core.Config) {
	str := func(key string, dst *string) {
		if v, ok := os.LookupEnv(envPrefix + key); ok {
			*dst = v
		}
	}
	boolean := func(key string, dst *bool) {
		if v, ok := os.LookupEnv(envPrefix + key); ok {
			if parsed, err := strconv.ParseBool(v); err == nil {
				*dst = parsed
			}
		}
	}
	duration := func(key string, dst *time.Duration) {
		if v, ok := os.LookupEnv(envPrefix + key); ok {
			if parsed, err := time.ParseDuration(v); err == nil {
				*dst = parsed
			}
		}
	}
	integer := func(key string, dst *int) {
		if v, ok := os.LookupEnv(envPrefix + key); ok {
			if parsed, err := strconv.Atoi(v); err == nil {
				*dst = parsed
			}
		}
	}
	integer64 := func(key string, dst *int64) {
		if v, ok := os.LookupEnv(envPrefix + key); ok {
			if parsed, err := strconv.ParseInt(v, 10, 64); err == nil {
				*dst = parsed
			}
		}
	}

	str("SERVER_LISTEN_ADDR", &c.Server.ListenAddr)
	str("SERVER_PATH_PREFIX", &c.Server.PathPrefix)
	str("SERVER_TLS_CERT", &c.Server.TLSCert)
	str("SERVER_TLS_KEY", &c.Server.TLSKey)
	str("SERVER_DSN", &c.Server.Dsn)
	str("SERVER_REDIS_ADDR", &c.Server.RedisAddr)
	str("SERVER_MEMCACHED_ADDR", &c.Server.MemcachedAddr)
	str("SERVER_TRACE_ENDPOINT", &c.Server.TraceEndpoint)
	boolean("SERVER_ENABLE_TRACE", &c.Server.EnableTrace)
	str("SERVER_LOG_PATH", &c.Server.LogPath)

	str("DID", &c.Mediator.DID)
	str("SERVICE_ENDPOINT", &c.Mediator.ServiceEndpoint)
	str("PRIVATE_KEY_JWK", &c.Mediator.PrivateKeyJWK)
	str("TOKEN_SIGNING_KEY", &c.Mediator.TokenSigningKey)

	boolean("POLICY_BLOCK_ANONYMOUS_OUTER_ENVELOPE", &c.Policy.BlockAnonymousOuterEnvelope)
	boolean("POLICY_FORCE_SESSION_DID_MATCH", &c.Policy.ForceSessionDIDMatch)
	boolean("POLICY_BLOCK_REMOTE_ADMIN_MSGS", &c.Policy.BlockRemoteAdminMsgs)
	boolean("POLICY_LOCAL_DIRECT_DELIVERY_ALLOWED", &c.Policy.LocalDirectDeliveryAllowed)
	boolean("POLICY_LOCAL_DIRECT_DELIVERY_ALLOW_ANON", &c.Policy.LocalDirectDeliveryAllowAnon)
	boolean("POLICY_SUPPRESS_FORWARD_FAILURE_NOTICE", &c.Policy.SuppressForwardFailureNotice)
	str("POLICY_ACL_MANAGEMENT_REQUEST_TYPE", &c.Policy.ACLManagementRequestType)
	str("POLICY_ACL_MANAGEMENT_RESPONSE_TYPE", &c.Policy.ACLManagementResponseType)

	duration("TTL_ACCESS_TOKEN", &c.TTL.AccessToken)
	duration("TTL_REFRESH_TOKEN", &c.TTL.RefreshToken)
	duration("TTL_SESSION_IDLE", &c.TTL.SessionIdle)
	duration("TTL_ADMIN_MESSAGES", &c.TTL.AdminMessages)
	duration("TTL_MESSAGE_EXPIRY", &c.TTL.MessageExpiry)
	duration("TTL_OOB_INVITE", &c.TTL.OOBInvite)
	duration("TTL_FORWARD_HORIZON", &c.TTL.ForwardHorizon)

	integer64("QUEUE_SEND_SOFT", &c.Queue.SendSoft)
	integer64("QUEUE_SEND_HARD", &c.Queue.SendHard)
	integer64("QUEUE_RECEIVE_SOFT", &c.Queue.ReceiveSoft)
	integer64("QUEUE_RECEIVE_HARD", &c.Queue.ReceiveHard)
	integer64("QUEUE_FORWARD_CAPACITY", &c.Queue.ForwardCapacity)
	integer("QUEUE_ACCESS_LIST_MAX", &c.Queue.AccessListMax)

	integer64("CAPS_MAX_ENVELOPE_BYTES", &c.Caps.MaxEnvelopeBytes)
	integer("CAPS_MAX_RECIPIENTS", &c.Caps.MaxRecipients)
	integer("CAPS_MAX_KEYS_PER_RECIPIENT", &c.Caps.MaxKeysPerRecipient)
	integer("CAPS_MAX_CRYPTO_OPS", &c.Caps.MaxCryptoOps)
	integer("CAPS_MAX_PICKUP_LIST", &c.Caps.MaxPickupList)
	integer("CAPS_MAX_DELETE_BATCH", &c.Caps.MaxDeleteBatch)

	str("ACL_MODE", &c.ACL.Mode)
	str("ACL_GLOBAL_DEFAULT_ACL", &c.ACL.GlobalDefaultACL)

	duration("EXPIRY_SWEEP_INTERVAL", &c.Expiry.SweepInterval)
	integer64("EXPIRY_SWEEP_BATCH_SIZE", &c.Expiry.SweepBatchSize)
}
