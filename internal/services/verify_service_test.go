package services

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ticket-scanner/internal/status"
	"ticket-scanner/models"
)

// memoryStore implements TicketStore with the same contract as the
// database-backed store: MarkUsed is a single atomic compare-and-set.
type memoryStore struct {
	mu      sync.Mutex
	tickets map[string]*models.TicketRecord // keyed by ticket_id
	failing bool
}

func newMemoryStore() *memoryStore {
	return &memoryStore{tickets: map[string]*models.TicketRecord{}}
}

var errStoreDown = errors.New("store unreachable")

func (m *memoryStore) add(t *models.TicketRecord) {
	m.mu.Lock()
	defer m.mu.Unlock()
	clone := *t
	m.tickets[t.TicketID] = &clone
}

func (m *memoryStore) FindByTicketID(ctx context.Context, ticketID string) (*models.TicketRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failing {
		return nil, errStoreDown
	}
	ticket, ok := m.tickets[ticketID]
	if !ok {
		return nil, status.ErrTicketNotFound
	}
	clone := *ticket
	return &clone, nil
}

func (m *memoryStore) FindByPaymentID(ctx context.Context, paymentID string) (*models.TicketRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failing {
		return nil, errStoreDown
	}
	for _, ticket := range m.tickets {
		if ticket.PaymentID == paymentID {
			clone := *ticket
			return &clone, nil
		}
	}
	return nil, status.ErrTicketNotFound
}

func (m *memoryStore) InsertIfAbsent(ctx context.Context, t *models.TicketRecord) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.tickets[t.TicketID]; ok {
		return false, nil
	}
	for _, existing := range m.tickets {
		if existing.PaymentID == t.PaymentID {
			return false, nil
		}
	}
	clone := *t
	clone.CreatedAt = time.Now()
	m.tickets[t.TicketID] = &clone
	return true, nil
}

func (m *memoryStore) UpsertByPaymentID(ctx context.Context, t *models.TicketRecord) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.tickets {
		if existing.PaymentID == t.PaymentID {
			existing.Name = t.Name
			existing.Email = t.Email
			if t.TicketType != "" {
				existing.TicketType = t.TicketType
			}
			return false, nil
		}
	}
	clone := *t
	if clone.TicketID == "" {
		clone.TicketID = DeriveTicketID(t.PaymentID)
	}
	clone.CreatedAt = time.Now()
	m.tickets[clone.TicketID] = &clone
	return true, nil
}

func (m *memoryStore) MarkUsed(ctx context.Context, ticketID, scannedBy string) (*models.TicketRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ticket, ok := m.tickets[ticketID]
	if !ok {
		return nil, status.ErrTicketNotFound
	}
	if ticket.Used {
		return nil, status.ErrTicketUsed
	}
	now := time.Now()
	ticket.Used = true
	ticket.UsedAt = &now
	ticket.ScannedBy = scannedBy
	clone := *ticket
	return &clone, nil
}

func (m *memoryStore) ListAll(ctx context.Context) ([]*models.TicketRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*models.TicketRecord, 0, len(m.tickets))
	for _, ticket := range m.tickets {
		clone := *ticket
		out = append(out, &clone)
	}
	return out, nil
}

func (m *memoryStore) Counts(ctx context.Context) (int64, int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var used int64
	for _, ticket := range m.tickets {
		if ticket.Used {
			used++
		}
	}
	return int64(len(m.tickets)), used, nil
}

func newTestVerifier(store TicketStore) (*VerificationService, *PayloadCodec) {
	codec := testCodec()
	return NewVerificationService(codec, store, nil), codec
}

func storedTicket() *models.TicketRecord {
	return &models.TicketRecord{
		TicketID:  "TKT-1",
		PaymentID: "PAY-1",
		Email:     "a@x.com",
		Name:      "Alex",
	}
}

func encode(t *testing.T, codec *PayloadCodec, payload models.QRPayload) string {
	t.Helper()
	encoded, err := codec.Encode(payload)
	require.NoError(t, err)
	return encoded
}

func TestVerify_Valid(t *testing.T) {
	store := newMemoryStore()
	store.add(storedTicket())
	service, codec := newTestVerifier(store)

	encoded := encode(t, codec, models.QRPayload{TicketID: "TKT-1", Email: "a@x.com", Ts: "100"})

	result, err := service.Verify(context.Background(), encoded)
	require.NoError(t, err)
	assert.Equal(t, models.StatusValid, result.Status)
	require.NotNil(t, result.Ticket)
	assert.Equal(t, "TKT-1", result.Ticket.TicketID)
	assert.False(t, result.Ticket.Used)
}

func TestVerify_DecryptionFailure(t *testing.T) {
	service, _ := newTestVerifier(newMemoryStore())

	result, err := service.Verify(context.Background(), "not-a-real-ciphertext")
	require.NoError(t, err)
	assert.Equal(t, models.StatusInvalid, result.Status)
	assert.Contains(t, result.Message, "decryption failed")
	assert.Nil(t, result.Ticket)
}

func TestVerify_MalformedPayload(t *testing.T) {
	service, codec := newTestVerifier(newMemoryStore())

	encoded := encryptRaw(t, codec, []byte(`{"something":"else"}`))

	result, err := service.Verify(context.Background(), encoded)
	require.NoError(t, err)
	assert.Equal(t, models.StatusInvalid, result.Status)
	assert.Contains(t, result.Message, "format")
}

func TestVerify_TicketNotFound(t *testing.T) {
	service, codec := newTestVerifier(newMemoryStore())

	encoded := encode(t, codec, models.QRPayload{TicketID: "TKT-unknown", Email: "a@x.com", Ts: "100"})

	result, err := service.Verify(context.Background(), encoded)
	require.NoError(t, err)
	assert.Equal(t, models.StatusInvalid, result.Status)
	assert.Contains(t, result.Message, "not found")
}

func TestVerify_EmailMismatch(t *testing.T) {
	store := newMemoryStore()
	store.add(storedTicket())
	service, codec := newTestVerifier(store)

	encoded := encode(t, codec, models.QRPayload{TicketID: "TKT-1", Email: "wrong@x.com", Ts: "100"})

	result, err := service.Verify(context.Background(), encoded)
	require.NoError(t, err)
	assert.Equal(t, models.StatusInvalid, result.Status)
	assert.Contains(t, result.Message, "mismatch")
	assert.Nil(t, result.Ticket)
}

func TestVerify_UsedTicket(t *testing.T) {
	store := newMemoryStore()
	ticket := storedTicket()
	usedAt := time.Now()
	ticket.Used = true
	ticket.UsedAt = &usedAt
	store.add(ticket)
	service, codec := newTestVerifier(store)

	encoded := encode(t, codec, models.QRPayload{TicketID: "TKT-1", Email: "a@x.com", Ts: "100"})

	result, err := service.Verify(context.Background(), encoded)
	require.NoError(t, err)
	assert.Equal(t, models.StatusUsed, result.Status)
	require.NotNil(t, result.Ticket)
	assert.NotNil(t, result.Ticket.UsedAt)
}

func TestVerify_StoreFailureIsError(t *testing.T) {
	store := newMemoryStore()
	store.add(storedTicket())
	service, codec := newTestVerifier(store)

	encoded := encode(t, codec, models.QRPayload{TicketID: "TKT-1", Email: "a@x.com", Ts: "100"})

	store.failing = true
	_, err := service.Verify(context.Background(), encoded)

	// An unreachable store must surface as an error, never as an
	// authoritative "invalid ticket" decision.
	require.Error(t, err)
	assert.ErrorIs(t, err, errStoreDown)
}

func TestVerify_TamperNeverResolvesForeignTicket(t *testing.T) {
	store := newMemoryStore()
	store.add(storedTicket())
	store.add(&models.TicketRecord{
		TicketID:  "TKT-2",
		PaymentID: "PAY-2",
		Email:     "b@x.com",
		Name:      "Bo",
	})
	service, codec := newTestVerifier(store)

	encoded := encode(t, codec, models.QRPayload{TicketID: "TKT-1", Email: "a@x.com", Ts: "100"})

	for i := 0; i < len(encoded); i++ {
		flipped := []byte(encoded)
		if flipped[i] == '0' {
			flipped[i] = '1'
		} else {
			flipped[i] = '0'
		}

		result, err := service.Verify(context.Background(), string(flipped))
		require.NoError(t, err)

		// A tampered code may at worst still pass as the ticket it was
		// issued for; it must never resolve to a different record.
		if result.Status == models.StatusValid || result.Status == models.StatusUsed {
			assert.Equal(t, "TKT-1", result.Ticket.TicketID, "flip at %d", i)
		}
	}
}

func TestMarkUsed_Success(t *testing.T) {
	store := newMemoryStore()
	store.add(storedTicket())
	service, _ := newTestVerifier(store)

	ticket, err := service.MarkUsed(context.Background(), "TKT-1", "gate-2")
	require.NoError(t, err)
	assert.True(t, ticket.Used)
	require.NotNil(t, ticket.UsedAt)
	assert.Equal(t, "gate-2", ticket.ScannedBy)
}

func TestMarkUsed_AlreadyUsed(t *testing.T) {
	store := newMemoryStore()
	store.add(storedTicket())
	service, _ := newTestVerifier(store)

	_, err := service.MarkUsed(context.Background(), "TKT-1", "gate-1")
	require.NoError(t, err)

	_, err = service.MarkUsed(context.Background(), "TKT-1", "gate-2")
	assert.ErrorIs(t, err, status.ErrTicketUsed)
}

func TestMarkUsed_NotFound(t *testing.T) {
	service, _ := newTestVerifier(newMemoryStore())

	_, err := service.MarkUsed(context.Background(), "TKT-none", "gate-1")
	assert.ErrorIs(t, err, status.ErrTicketNotFound)
}

func TestMarkUsed_PaymentIDFallback(t *testing.T) {
	store := newMemoryStore()
	store.add(storedTicket())
	service, _ := newTestVerifier(store)

	// Historical callers send the payment id; redemption still runs
	// against the resolved ticket_id.
	ticket, err := service.MarkUsed(context.Background(), "PAY-1", "gate-1")
	require.NoError(t, err)
	assert.Equal(t, "TKT-1", ticket.TicketID)
	assert.True(t, ticket.Used)
}

func TestMarkUsed_AtMostOnceUnderConcurrency(t *testing.T) {
	store := newMemoryStore()
	store.add(storedTicket())
	service, _ := newTestVerifier(store)

	const attempts = 50

	var wg sync.WaitGroup
	results := make(chan error, attempts)

	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := service.MarkUsed(context.Background(), "TKT-1", "gate")
			results <- err
		}()
	}
	wg.Wait()
	close(results)

	successes := 0
	conflicts := 0
	for err := range results {
		switch {
		case err == nil:
			successes++
		case errors.Is(err, status.ErrTicketUsed):
			conflicts++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}

	assert.Equal(t, 1, successes)
	assert.Equal(t, attempts-1, conflicts)

	ticket, err := store.FindByTicketID(context.Background(), "TKT-1")
	require.NoError(t, err)
	assert.True(t, ticket.Used)
	assert.NotNil(t, ticket.UsedAt)
}

func TestScanLifecycle(t *testing.T) {
	store := newMemoryStore()
	store.add(storedTicket())
	service, codec := newTestVerifier(store)
	ctx := context.Background()

	encoded := encode(t, codec, models.QRPayload{TicketID: "TKT-1", Email: "a@x.com", Ts: "100"})

	result, err := service.Verify(ctx, encoded)
	require.NoError(t, err)
	assert.Equal(t, models.StatusValid, result.Status)

	ticket, err := service.MarkUsed(ctx, "TKT-1", "gate-1")
	require.NoError(t, err)
	assert.True(t, ticket.Used)

	// The same code now reads as used, and a second confirmation is a
	// conflict.
	result, err = service.Verify(ctx, encoded)
	require.NoError(t, err)
	assert.Equal(t, models.StatusUsed, result.Status)

	_, err = service.MarkUsed(ctx, "TKT-1", "gate-2")
	assert.ErrorIs(t, err, status.ErrTicketUsed)
}
