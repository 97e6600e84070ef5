package network

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"pix_processor/internal/domain"
)

// EventSink receives the asynchronous settlement events the simulated
// network emits for pending orders.
type EventSink interface {
	Deliver(ctx context.Context, event domain.SettlementEvent) error
}

// Simulator is an in-process payment network. Results are cached per
// idempotency key so a retried order never settles twice.
type Simulator struct {
	mu           sync.Mutex
	results      map[string]SettlementResult
	externalKeys map[string]LookupResult
	decide       func(req SettlementRequest) SettlementResult
	latency      time.Duration
	sink         EventSink
	confirmAfter time.Duration
	wg           sync.WaitGroup
	logger       *slog.Logger
}

type SimulatorOption func(*Simulator)

func WithDecision(decide func(req SettlementRequest) SettlementResult) SimulatorOption {
	return func(s *Simulator) { s.decide = decide }
}

func WithLatency(latency time.Duration) SimulatorOption {
	return func(s *Simulator) { s.latency = latency }
}

// WithEventSink makes the simulator confirm pending orders asynchronously.
func WithEventSink(sink EventSink, confirmAfter time.Duration) SimulatorOption {
	return func(s *Simulator) {
		s.sink = sink
		s.confirmAfter = confirmAfter
	}
}

func NewSimulator(logger *slog.Logger, opts ...SimulatorOption) *Simulator {
	if logger == nil {
		logger = slog.Default()
	}

	s := &Simulator{
		results:      make(map[string]SettlementResult),
		externalKeys: make(map[string]LookupResult),
		logger:       logger,
	}
	s.decide = func(req SettlementRequest) SettlementResult {
		return SettlementResult{Success: true}
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Simulator) RegisterExternalKey(value, ownerName, bankName string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.externalKeys[value] = LookupResult{Found: true, OwnerName: ownerName, BankName: bankName}
}

func (s *Simulator) ExecuteTransfer(ctx context.Context, req SettlementRequest) (SettlementResult, error) {
	if req.IdempotencyKey == "" {
		return SettlementResult{}, fmt.Errorf("idempotency key is required")
	}

	s.mu.Lock()
	if cached, ok := s.results[req.IdempotencyKey]; ok {
		s.mu.Unlock()
		return cached, nil
	}
	s.mu.Unlock()

	if s.latency > 0 {
		select {
		case <-time.After(s.latency):
		case <-ctx.Done():
			return SettlementResult{}, ctx.Err()
		}
	}

	result := s.decide(req)
	if result.ExternalReferenceID == "" {
		result.ExternalReferenceID = endToEndID()
	}

	s.mu.Lock()
	s.results[req.IdempotencyKey] = result
	s.mu.Unlock()

	s.logger.InfoContext(ctx, "Simulated settlement",
		slog.String("idempotency_key", req.IdempotencyKey),
		slog.String("external_reference_id", result.ExternalReferenceID),
		slog.Bool("success", result.Success),
		slog.Bool("pending", result.Pending))

	if result.Success && result.Pending && s.sink != nil {
		s.scheduleConfirmation(result.ExternalReferenceID, req)
	}

	return result, nil
}

func (s *Simulator) scheduleConfirmation(ref string, req SettlementRequest) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		time.Sleep(s.confirmAfter)

		event := domain.SettlementEvent{
			EventType:           domain.WebhookSentConfirmed,
			ExternalReferenceID: ref,
			Amount:              req.Amount,
			Status:              "CONFIRMED",
			Timestamp:           time.Now().UTC(),
		}
		if err := s.sink.Deliver(context.Background(), event); err != nil {
			s.logger.Error("Simulated webhook delivery failed",
				slog.String("external_reference_id", ref),
				slog.String("error", err.Error()))
		}
	}()
}

func (s *Simulator) Lookup(ctx context.Context, keyValue string) (LookupResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if result, ok := s.externalKeys[keyValue]; ok {
		return result, nil
	}
	return LookupResult{Found: false}, nil
}

// Wait blocks until every scheduled confirmation has been delivered.
func (s *Simulator) Wait() {
	s.wg.Wait()
}

// endToEndID mimics the network's 32-character end-to-end identifier.
func endToEndID() string {
	id := strings.ReplaceAll(uuid.NewString(), "-", "")
	return "E" + strings.ToUpper(id[:31])
}
