package peer

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"

	"github.com/affinidi/didcomm-mediator/core"
	"github.com/affinidi/didcomm-mediator/x/resolver"
)

// Service is the known-peer-mediator directory of spec §4.6: it resolves
// a forward task's next-hop DID hash back to a service endpoint and
// dials it over plain HTTP, and answers the envelope pipeline's
// loop-detection question of whether a DID is this mediator itself.
// Implements both forward.Sender and envelope.PeerResolver.
type Service interface {
	Remember(ctx context.Context, did string) error
	IsSelf(ctx context.Context, did string) bool
	Send(ctx context.Context, nextHopHash string, envelope []byte) error

	List(ctx context.Context) ([]Record, error)
	Forget(ctx context.Context, didHash string) error
}

type service struct {
	repository      Repository
	resolver        resolver.Service
	httpClient      *http.Client
	mediatorDIDHash string
}

// NewService builds the peer directory. mediatorDID is hashed once, the
// same way x/account memoizes its own protected hash, so IsSelf never
// has to resolve anything for the common case.
func NewService(repository Repository, resolverSvc resolver.Service, mediatorDID string) Service {
	return &service{
		repository:      repository,
		resolver:        resolverSvc,
		httpClient:      &http.Client{Timeout: 10 * time.Second},
		mediatorDIDHash: hashDID(mediatorDID),
	}
}

func hashDID(did string) string {
	sum := sha256.Sum256([]byte(did))
	return hex.EncodeToString(sum[:])
}

// Remember records a DID seen as a forward next-hop so Send can later
// resolve its hash back to a dialable endpoint. Safe to call repeatedly;
// the endpoint itself is resolved lazily on first Send, not here, so a
// burst of forwarded traffic never turns into a burst of DID resolutions.
func (s *service) Remember(ctx context.Context, did string) error {
	ctx, span := tracer.Start(ctx, "Peer.Service.Remember")
	defer span.End()

	if did == "" {
		return nil
	}

	hash := hashDID(did)
	existing, err := s.repository.Get(ctx, hash)
	if err == nil && existing.DID == did {
		return nil
	}
	if err != nil {
		if _, ok := err.(core.ErrorNotFound); !ok {
			span.RecordError(err)
			return err
		}
	}

	return s.repository.Upsert(ctx, Record{DIDHash: hash, DID: did})
}

func (s *service) IsSelf(ctx context.Context, did string) bool {
	return hashDID(did) == s.mediatorDIDHash
}

func (s *service) List(ctx context.Context) ([]Record, error) {
	return s.repository.List(ctx)
}

func (s *service) Forget(ctx context.Context, didHash string) error {
	return s.repository.Delete(ctx, didHash)
}

// Send resolves nextHopHash to a known peer's DIDCommMessaging endpoint
// and POSTs the forward envelope there, grounded on the teacher's
// `x/domain.SayHello`'s outbound-dial shape (otel propagation header,
// bounded client timeout). Network and non-2xx-from-a-presumably-live-peer
// failures are wrapped retryable so forward's reactor backs off and
// retries instead of failing the task on the first hiccup; an unknown
// peer or a client error from the remote is not.
func (s *service) Send(ctx context.Context, nextHopHash string, envelope []byte) error {
	ctx, span := tracer.Start(ctx, "Peer.Service.Send")
	defer span.End()

	record, err := s.repository.Get(ctx, nextHopHash)
	if err != nil {
		span.RecordError(err)
		return err
	}

	endpoint := record.Endpoint
	if endpoint == "" {
		endpoint, err = s.resolveEndpoint(ctx, record)
		if err != nil {
			span.RecordError(err)
			return err
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(envelope))
	if err != nil {
		span.RecordError(err)
		return err
	}
	req.Header.Set("content-type", "application/didcomm-encrypted+json")
	otel.GetTextMapPropagator().Inject(ctx, propagation.HeaderCarrier(req.Header))

	resp, err := s.httpClient.Do(req)
	if err != nil {
		span.RecordError(err)
		return core.NewErrorRetryable(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 500 {
		return core.NewErrorRetryable(fmt.Errorf("peer: %s responded %d", endpoint, resp.StatusCode))
	}
	if resp.StatusCode >= 300 {
		return fmt.Errorf("peer: %s rejected forward with status %d", endpoint, resp.StatusCode)
	}
	return nil
}

func (s *service) resolveEndpoint(ctx context.Context, record Record) (string, error) {
	doc, err := s.resolver.Resolve(ctx, record.DID)
	if err != nil {
		return "", core.NewErrorRetryable(err)
	}
	if doc.ServiceEndpoint == "" || !strings.HasPrefix(doc.ServiceEndpoint, "http") {
		return "", fmt.Errorf("peer: %s has no usable DIDCommMessaging service endpoint", record.DID)
	}

	record.Endpoint = doc.ServiceEndpoint
	if err := s.repository.Upsert(ctx, record); err != nil {
		return "", err
	}
	return record.Endpoint, nil
}
