package notification

import (
	"context"
	"errors"
	"net/smtp"
	"strings"
	"sync"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/jordan-wright/email"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agrolend/agrolend/internal/logging"
)

type fakeNotifier struct {
	mu     sync.Mutex
	sent   []Message
	failTo map[string]int
}

func (f *fakeNotifier) Send(_ context.Context, m Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failTo[m.Destination] > 0 {
		f.failTo[m.Destination]--
		return errors.New("smtp: 451 try again later")
	}
	f.sent = append(f.sent, m)
	return nil
}

func sampleNotice() ContractNotice {
	return ContractNotice{
		ContractID:    "c-1",
		ApplicationID: "app-1",
		LenderID:      "lender-1",
		LenderEmail:   "lender@example.com",
		FarmerID:      "farmer-1",
		FarmerName:    "Ada Obi",
		FarmerEmail:   "ada@example.com",
		Principal:     "50000",
		Fee:           "200",
		InterestRate:  "5",
		TermMonths:    6,
		Currency:      "NGN",
		IssuedAt:      time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC),
	}
}

func TestRenderContract(t *testing.T) {
	body, err := RenderContract(sampleNotice())
	require.NoError(t, err)
	assert.Contains(t, body, "LOAN CONTRACT c-1")
	assert.Contains(t, body, "Ada Obi (farmer-1)")
	assert.Contains(t, body, "NGN 50000")
	assert.Contains(t, body, "5% per annum")
	assert.Contains(t, body, "NGN 200")
}

func TestOutboxDeliversToBothParties(t *testing.T) {
	n := &fakeNotifier{}
	q := NewMemoryQueue()
	o := NewOutbox(q, n, logging.Discard(), 3)
	ctx := context.Background()

	require.NoError(t, o.Enqueue(ctx, sampleNotice()))
	delivered, err := o.Drain(ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, 1, delivered)
	require.Len(t, n.sent, 2)
	assert.Equal(t, "lender@example.com", n.sent[0].Destination)
	assert.Equal(t, "ada@example.com", n.sent[1].Destination)
	assert.Equal(t, KindContractIssued, n.sent[0].Kind)
}

func TestOutboxRetriesOnlyUndeliveredRecipients(t *testing.T) {
	n := &fakeNotifier{failTo: map[string]int{"ada@example.com": 1}}
	q := NewMemoryQueue()
	o := NewOutbox(q, n, logging.Discard(), 3)
	ctx := context.Background()

	require.NoError(t, o.Enqueue(ctx, sampleNotice()))
	delivered, err := o.Drain(ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, 0, delivered)
	pending, dead := q.Len()
	assert.Equal(t, 1, pending)
	assert.Equal(t, 0, dead)

	delivered, err = o.Drain(ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, 1, delivered)

	lenderMails := 0
	for _, m := range n.sent {
		if m.Destination == "lender@example.com" {
			lenderMails++
		}
	}
	assert.Equal(t, 1, lenderMails, "lender must not be mailed twice")
}

func TestOutboxDeadLettersAfterMaxAttempts(t *testing.T) {
	n := &fakeNotifier{failTo: map[string]int{"lender@example.com": 10}}
	q := NewMemoryQueue()
	o := NewOutbox(q, n, logging.Discard(), 2)
	ctx := context.Background()

	require.NoError(t, o.Enqueue(ctx, sampleNotice()))
	_, _ = o.Drain(ctx, 10)
	_, _ = o.Drain(ctx, 10)

	pending, dead := q.Len()
	assert.Equal(t, 0, pending)
	assert.Equal(t, 1, dead)
	assert.Equal(t, 2, q.dead[0].Attempts)
	assert.Contains(t, q.dead[0].LastError, "try again later")
}

func TestRedisQueueRoundTrip(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	defer mr.Close()
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	q := NewRedisQueue(client)
	ctx := context.Background()

	_, ok, err := q.Pop(ctx)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, q.Push(ctx, Envelope{Notice: sampleNotice(), Attempts: 1}))
	env, ok, err := q.Pop(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "c-1", env.Notice.ContractID)
	assert.Equal(t, 1, env.Attempts)

	require.NoError(t, q.DeadLetter(ctx, env))
	items, err := mr.List(redisDeadLetterKey)
	require.NoError(t, err)
	assert.Len(t, items, 1)
}

func TestEmailNotifierBuildsMessage(t *testing.T) {
	n := NewEmailNotifier(SMTPConfig{Host: "smtp.example.com", Port: "587", Username: "u", Password: "p", Sender: "loans@agrolend.test"}, logging.Discard())
	var (
		gotAddr string
		gotMail *email.Email
	)
	n.send = func(e *email.Email, addr string, _ smtp.Auth) error {
		gotAddr = addr
		gotMail = e
		return nil
	}

	err := n.Send(context.Background(), Message{Kind: KindContractIssued, Destination: "ada@example.com", Subject: "Loan contract c-1", Body: "hello"})
	require.NoError(t, err)
	assert.Equal(t, "smtp.example.com:587", gotAddr)
	assert.Equal(t, []string{"ada@example.com"}, gotMail.To)
	assert.Equal(t, "loans@agrolend.test", gotMail.From)
	assert.True(t, strings.HasPrefix(string(gotMail.Text), "hello"))

	n.send = func(*email.Email, string, smtp.Auth) error { return errors.New("dial tcp: refused") }
	err = n.Send(context.Background(), Message{Kind: KindContractIssued, Destination: "x@example.com"})
	assert.ErrorContains(t, err, "refused")
}
