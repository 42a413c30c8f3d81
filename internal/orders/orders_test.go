package orders

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCanTransition(t *testing.T) {
	cases := []struct {
		from, to Status
		ok       bool
	}{
		{StatusPlaced, StatusConfirmed, true},
		{StatusPlaced, StatusCancelled, true},
		{StatusPlaced, StatusShipped, false},
		{StatusConfirmed, StatusShipped, true},
		{StatusShipped, StatusDelivered, true},
		{StatusShipped, StatusCancelled, true},
		{StatusDelivered, StatusCancelled, false},
		{StatusCancelled, StatusPlaced, false},
		{StatusCancelled, StatusCancelled, false},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.ok, CanTransition(tc.from, tc.to), "%s -> %s", tc.from, tc.to)
	}
	assert.True(t, StatusDelivered.Terminal())
	assert.True(t, StatusCancelled.Terminal())
	assert.False(t, StatusShipped.Terminal())
	assert.False(t, Status("lost").Valid())
}

func TestFormatNumber(t *testing.T) {
	assert.Equal(t, "WM-2024-000042", FormatNumber("WM", 2024, 42))
	assert.Equal(t, "WM-2025-1234567", FormatNumber("WM", 2025, 1234567))
}

func TestMemorySequence_PerYear(t *testing.T) {
	s := NewMemorySequence()
	ctx := context.Background()

	a, _ := s.Next(ctx, 2024)
	b, _ := s.Next(ctx, 2024)
	c, _ := s.Next(ctx, 2025)
	assert.Equal(t, []int64{1, 2, 1}, []int64{a, b, c})
}

func TestAddress_Missing(t *testing.T) {
	a := Address{FullName: "Ada", Line1: "1 Road", City: "X", Country: "ID"}
	assert.Equal(t, []string{"state", "zip_code", "phone"}, a.Missing())
}

func newOrder(id, owner string, at time.Time) Order {
	return Order{
		ID:        id,
		OwnerID:   owner,
		Status:    StatusPlaced,
		Items:     []Item{{ProductID: "p1", Quantity: 2, Price: decimal.NewFromInt(5), Specifications: map[string]string{"size": "M"}}},
		History:   []StatusEntry{{Status: StatusPlaced, At: at}},
		CreatedAt: at,
		UpdatedAt: at,
	}
}

func TestMemoryRepo_CreateGetIsolated(t *testing.T) {
	r := NewMemory()
	ctx := context.Background()
	o := newOrder("o1", "u1", time.Now())
	require.NoError(t, r.Create(ctx, o))
	require.ErrorIs(t, r.Create(ctx, o), ErrDuplicate)

	got, err := r.Get(ctx, "o1")
	require.NoError(t, err)
	got.Items[0].Specifications["size"] = "XL"
	got.Items[0].Quantity = 99

	again, _ := r.Get(ctx, "o1")
	assert.Equal(t, "M", again.Items[0].Specifications["size"])
	assert.Equal(t, 2, again.Items[0].Quantity)

	_, err = r.Get(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemoryRepo_ListNewestFirst(t *testing.T) {
	r := NewMemory()
	ctx := context.Background()
	t0 := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	require.NoError(t, r.Create(ctx, newOrder("a", "u1", t0)))
	require.NoError(t, r.Create(ctx, newOrder("b", "u1", t0.Add(time.Hour))))
	require.NoError(t, r.Create(ctx, newOrder("c", "u2", t0.Add(2*time.Hour))))

	list, err := r.ListByOwner(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "b", list[0].ID)
	assert.Equal(t, "a", list[1].ID)

	empty, err := r.ListByOwner(ctx, "nobody")
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func TestMemoryRepo_UpdateStatusIsCompareAndSet(t *testing.T) {
	r := NewMemory()
	ctx := context.Background()
	now := time.Now()
	require.NoError(t, r.Create(ctx, newOrder("o1", "u1", now)))

	o, err := r.UpdateStatus(ctx, "o1", StatusPlaced, StatusEntry{Status: StatusCancelled, At: now, Note: "changed mind"})
	require.NoError(t, err)
	assert.Equal(t, StatusCancelled, o.Status)
	require.Len(t, o.History, 2)
	assert.Equal(t, "changed mind", o.History[1].Note)

	_, err = r.UpdateStatus(ctx, "o1", StatusPlaced, StatusEntry{Status: StatusConfirmed, At: now})
	assert.ErrorIs(t, err, ErrStatusConflict)

	_, err = r.UpdateStatus(ctx, "nope", StatusPlaced, StatusEntry{Status: StatusConfirmed, At: now})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestLiveness(t *testing.T) {
	r := NewMemory()
	ctx := context.Background()
	require.NoError(t, r.Create(ctx, newOrder("o1", "u1", time.Now())))
	require.NoError(t, r.Create(ctx, newOrder("o2", "u1", time.Now())))
	_, err := r.UpdateStatus(ctx, "o2", StatusPlaced, StatusEntry{Status: StatusCancelled, At: time.Now()})
	require.NoError(t, err)

	l := Liveness{Repo: r}
	for id, want := range map[string]bool{"o1": true, "o2": false, "gone": false} {
		got, err := l.Live(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, want, got, id)
	}
}

func TestSummarize(t *testing.T) {
	a := newOrder("a", "u", time.Now())
	a.Pricing.Total = decimal.RequireFromString("54.00")
	b := newOrder("b", "u", time.Now())
	b.Status = StatusCancelled
	b.Pricing.Total = decimal.RequireFromString("10.50")

	s := Summarize([]Order{a, b})
	assert.Equal(t, 2, s.Total)
	assert.True(t, s.TotalAmount.Equal(decimal.RequireFromString("64.5")))
	assert.Equal(t, 1, s.Status[StatusPlaced])
	assert.Equal(t, 1, s.Status[StatusCancelled])
	assert.Equal(t, 0, s.Status[StatusShipped])
}
