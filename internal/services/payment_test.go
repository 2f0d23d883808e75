package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"
	"unicode/utf8"

	"eventpayments/internal/adapters/signature"
	"eventpayments/internal/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	testKeyID          = "rzp_test_key"
	testCheckoutSecret = "checkout-secret"
	testWebhookSecret  = "webhook-secret"
)

type paymentFixture struct {
	store    *memStore
	issuer   *fakeIssuer
	notifier *recordingNotifier
	svc      domain.PaymentService
	regID    string
	payID    string
}

// newPaymentFixture seeds a 50000 paise event with one registration and its pending payment.
func newPaymentFixture(t *testing.T) *paymentFixture {
	t.Helper()
	store := newMemStore()
	created := time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)
	store.events["ev-1"] = &domain.Event{ID: "ev-1", Title: "Hack Night", FeeAmount: 50000, Currency: "INR", OwnerID: "owner-1"}
	store.events["ev-free"] = &domain.Event{ID: "ev-free", Title: "Meetup", FeeAmount: 0, Currency: "INR", OwnerID: "owner-1"}
	store.registrations["reg-1"] = &domain.Registration{ID: "reg-1", EventID: "ev-1", UserID: "user-1",
		Status: domain.RegistrationPending, PaymentStatus: domain.PaymentPending, CreatedAt: created}
	store.registrations["reg-free"] = &domain.Registration{ID: "reg-free", EventID: "ev-free", UserID: "user-1",
		Status: domain.RegistrationPending, PaymentStatus: domain.PaymentCompleted, CreatedAt: created}
	p := domain.NewPayment("reg-1", 50000, "INR", created)
	p.ID = "pay-1"
	store.payments["pay-1"] = p

	f := &paymentFixture{
		store:    store,
		issuer:   &fakeIssuer{orderID: "order_abc"},
		notifier: &recordingNotifier{},
		regID:    "reg-1",
		payID:    "pay-1",
	}
	f.svc = f.newService(PaymentConfig{KeyID: testKeyID, CheckoutSecret: testCheckoutSecret, WebhookSecret: testWebhookSecret})
	return f
}

func (f *paymentFixture) newService(cfg PaymentConfig) domain.PaymentService {
	return NewPaymentService(cfg,
		memPayments{f.store}, memRegistrations{f.store}, memWebhookEvents{f.store},
		f.issuer, f.notifier, discardLogger())
}

func (f *paymentFixture) attachOrder(t *testing.T, orderID string) {
	t.Helper()
	require.NoError(t, memPayments{f.store}.AttachGatewayOrder(context.Background(), f.payID, orderID))
}

func checkoutSignature(orderID, paymentID string) string {
	return signature.Sign(signature.CheckoutMessage(orderID, paymentID), []byte(testCheckoutSecret))
}

func webhookBody(event, orderID, paymentID string) []byte {
	return []byte(fmt.Sprintf(`{"entity":"event","event":%q,"payload":{"payment":{"entity":{"id":%q,"order_id":%q,"amount":50000,"status":"captured"}}}}`,
		event, paymentID, orderID))
}

func signWebhook(body []byte) string {
	return signature.Sign(body, []byte(testWebhookSecret))
}

func TestPaymentService_EndToEndCheckout(t *testing.T) {
	ctx := context.Background()
	f := newPaymentFixture(t)

	order, err := f.svc.CreateOrder(ctx, domain.CreateOrderInput{RegistrationID: "reg-1", Amount: 50000, Currency: "INR", UserID: "user-1"})
	require.NoError(t, err)
	assert.Equal(t, &domain.OrderResult{OrderID: "order_abc", Amount: 50000, Currency: "INR", KeyID: testKeyID}, order)
	assert.Equal(t, "reg_reg-1", f.issuer.last.Receipt)
	assert.Equal(t, "reg-1", f.issuer.last.Notes["registration_id"])

	in := domain.VerifyInput{
		RegistrationID:   "reg-1",
		GatewayOrderID:   "order_abc",
		GatewayPaymentID: "pay_123",
		Signature:        checkoutSignature("order_abc", "pay_123"),
		UserID:           "user-1",
	}
	res, err := f.svc.VerifyPayment(ctx, in)
	require.NoError(t, err)
	assert.Equal(t, &domain.VerifyResult{Success: true}, res)

	p := f.store.payment("pay-1")
	assert.Equal(t, domain.PaymentCompleted, p.Status)
	require.NotNil(t, p.GatewayPaymentID)
	assert.Equal(t, "pay_123", *p.GatewayPaymentID)
	require.NotNil(t, p.GatewaySignature)
	assert.NotNil(t, p.VerifiedAt)
	assert.Equal(t, domain.PaymentCompleted, f.store.registration("reg-1").PaymentStatus)

	res, err = f.svc.VerifyPayment(ctx, in)
	require.NoError(t, err)
	assert.Equal(t, &domain.VerifyResult{Success: true, AlreadyVerified: true}, res)
	assert.Equal(t, 1, f.store.markPaidCalls)
	require.Equal(t, 1, f.notifier.count())
	assert.Equal(t, domain.SourceCheckout, f.notifier.events[0].Source)
	assert.Equal(t, "user-1", f.notifier.events[0].UserID)
	assert.Equal(t, "ev-1", f.notifier.events[0].EventID)
}

func TestPaymentService_CreateOrderReusesAttachedOrder(t *testing.T) {
	ctx := context.Background()
	f := newPaymentFixture(t)
	in := domain.CreateOrderInput{RegistrationID: "reg-1", Amount: 50000, Currency: "INR", UserID: "user-1"}

	first, err := f.svc.CreateOrder(ctx, in)
	require.NoError(t, err)
	second, err := f.svc.CreateOrder(ctx, in)
	require.NoError(t, err)

	assert.Equal(t, first.OrderID, second.OrderID)
	assert.Equal(t, 1, f.issuer.callCount())
}

func TestPaymentService_CreateOrderAttachRace(t *testing.T) {
	f := newPaymentFixture(t)
	winner := "order_winner"
	f.store.beforeAttach = func(p *domain.Payment) {
		if p.GatewayOrderID == nil {
			p.GatewayOrderID = &winner
		}
	}

	res, err := f.svc.CreateOrder(context.Background(), domain.CreateOrderInput{RegistrationID: "reg-1", Amount: 50000})
	require.NoError(t, err)
	assert.Equal(t, "order_winner", res.OrderID)
	assert.Equal(t, "order_winner", *f.store.payment("pay-1").GatewayOrderID)
}

func TestPaymentService_CreateOrderRejections(t *testing.T) {
	tests := []struct {
		name    string
		in      domain.CreateOrderInput
		cfg     *PaymentConfig
		wantErr error
	}{
		{name: "tampered amount", in: domain.CreateOrderInput{RegistrationID: "reg-1", Amount: 1, Currency: "INR"}, wantErr: domain.ErrValidation},
		{name: "just below floor", in: domain.CreateOrderInput{RegistrationID: "reg-1", Amount: 99}, wantErr: domain.ErrValidation},
		{name: "amount differs from fee", in: domain.CreateOrderInput{RegistrationID: "reg-1", Amount: 100}, wantErr: domain.ErrValidation},
		{name: "currency differs", in: domain.CreateOrderInput{RegistrationID: "reg-1", Amount: 50000, Currency: "USD"}, wantErr: domain.ErrValidation},
		{name: "missing registration id", in: domain.CreateOrderInput{Amount: 50000}, wantErr: domain.ErrValidation},
		{name: "unknown registration", in: domain.CreateOrderInput{RegistrationID: "reg-x", Amount: 50000}, wantErr: domain.ErrNotFound},
		{name: "someone else's registration", in: domain.CreateOrderInput{RegistrationID: "reg-1", Amount: 50000, UserID: "user-2"}, wantErr: domain.ErrNotFound},
		{name: "free event has no pending payment", in: domain.CreateOrderInput{RegistrationID: "reg-free", Amount: 50000}, wantErr: domain.ErrInvalidState},
		{name: "key id missing", in: domain.CreateOrderInput{RegistrationID: "reg-1", Amount: 50000}, cfg: &PaymentConfig{}, wantErr: domain.ErrConfiguration},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newPaymentFixture(t)
			svc := f.svc
			if tt.cfg != nil {
				svc = f.newService(*tt.cfg)
			}
			before := f.store.payment("pay-1")

			res, err := svc.CreateOrder(context.Background(), tt.in)
			require.ErrorIs(t, err, tt.wantErr)
			assert.Nil(t, res)
			assert.Equal(t, 0, f.issuer.callCount())
			assert.Equal(t, before, f.store.payment("pay-1"))
			assert.Equal(t, domain.PaymentCompleted, f.store.registration("reg-free").PaymentStatus)
		})
	}
}

func TestPaymentService_CreateOrderGatewayFailure(t *testing.T) {
	for _, gwErr := range []error{domain.ErrTimeout, domain.ErrNetwork, domain.ErrGatewayAuth, domain.ErrGateway, domain.ErrConfiguration} {
		t.Run(gwErr.Error(), func(t *testing.T) {
			f := newPaymentFixture(t)
			f.issuer.err = fmt.Errorf("wrapped: %w", gwErr)

			_, err := f.svc.CreateOrder(context.Background(), domain.CreateOrderInput{RegistrationID: "reg-1", Amount: 50000})
			require.ErrorIs(t, err, gwErr)
			assert.Nil(t, f.store.payment("pay-1").GatewayOrderID)
		})
	}
}

func TestPaymentService_VerifyRejectsBadSignature(t *testing.T) {
	f := newPaymentFixture(t)
	f.attachOrder(t, "order_abc")
	before := f.store.payment("pay-1")

	tests := []struct {
		name string
		sig  string
	}{
		{name: "wrong secret", sig: signature.Sign(signature.CheckoutMessage("order_abc", "pay_123"), []byte("other"))},
		{name: "swapped ids", sig: checkoutSignature("pay_123", "order_abc")},
		{name: "not hex", sig: "zzzz"},
		{name: "truncated", sig: checkoutSignature("order_abc", "pay_123")[:40]},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := f.svc.VerifyPayment(context.Background(), domain.VerifyInput{
				RegistrationID: "reg-1", GatewayOrderID: "order_abc", GatewayPaymentID: "pay_123", Signature: tt.sig,
			})
			require.ErrorIs(t, err, domain.ErrSignatureMismatch)
			require.NotNil(t, res)
			assert.False(t, res.Success)
		})
	}

	assert.Equal(t, before, f.store.payment("pay-1"))
	assert.Equal(t, domain.PaymentPending, f.store.registration("reg-1").PaymentStatus)
	assert.Equal(t, 0, f.store.markCompletedCalls)
	assert.Equal(t, 0, f.store.markPaidCalls)
}

func TestPaymentService_VerifyInputErrors(t *testing.T) {
	f := newPaymentFixture(t)
	f.attachOrder(t, "order_abc")
	valid := checkoutSignature("order_abc", "pay_123")

	tests := []struct {
		name    string
		in      domain.VerifyInput
		cfg     *PaymentConfig
		wantErr error
	}{
		{name: "missing signature", in: domain.VerifyInput{RegistrationID: "reg-1", GatewayOrderID: "order_abc", GatewayPaymentID: "pay_123"}, wantErr: domain.ErrValidation},
		{name: "missing order id", in: domain.VerifyInput{RegistrationID: "reg-1", GatewayPaymentID: "pay_123", Signature: valid}, wantErr: domain.ErrValidation},
		{name: "unknown order", in: domain.VerifyInput{RegistrationID: "reg-1", GatewayOrderID: "order_zzz", GatewayPaymentID: "pay_123", Signature: checkoutSignature("order_zzz", "pay_123")}, wantErr: domain.ErrNotFound},
		{name: "order of another registration", in: domain.VerifyInput{RegistrationID: "reg-free", GatewayOrderID: "order_abc", GatewayPaymentID: "pay_123", Signature: valid}, wantErr: domain.ErrNotFound},
		{name: "other user", in: domain.VerifyInput{RegistrationID: "reg-1", GatewayOrderID: "order_abc", GatewayPaymentID: "pay_123", Signature: valid, UserID: "user-2"}, wantErr: domain.ErrNotFound},
		{name: "secret missing", in: domain.VerifyInput{RegistrationID: "reg-1", GatewayOrderID: "order_abc", GatewayPaymentID: "pay_123", Signature: valid}, cfg: &PaymentConfig{KeyID: testKeyID}, wantErr: domain.ErrConfiguration},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := f.svc
			if tt.cfg != nil {
				svc = f.newService(*tt.cfg)
			}
			_, err := svc.VerifyPayment(context.Background(), tt.in)
			require.ErrorIs(t, err, tt.wantErr)
		})
	}
	assert.Equal(t, domain.PaymentPending, f.store.payment("pay-1").Status)
}

func TestPaymentService_HandleWebhook(t *testing.T) {
	captured := webhookBody(domain.WebhookPaymentCaptured, "order_abc", "pay_123")

	tests := []struct {
		name          string
		cfg           *PaymentConfig
		body          []byte
		sig           string
		eventID       string
		wantErr       error
		wantCompleted bool
	}{
		{name: "captured completes payment", body: captured, sig: signWebhook(captured), eventID: "evt_1", wantCompleted: true},
		{name: "authorized completes payment", body: webhookBody(domain.WebhookPaymentAuthorized, "order_abc", "pay_123"),
			sig: signWebhook(webhookBody(domain.WebhookPaymentAuthorized, "order_abc", "pay_123")), wantCompleted: true},
		{name: "bad signature", body: captured, sig: signature.Sign(captured, []byte("nope")), wantErr: domain.ErrSignatureMismatch},
		{name: "missing signature", body: captured, wantErr: domain.ErrSignatureMismatch},
		{name: "secret missing", body: captured, sig: signWebhook(captured), cfg: &PaymentConfig{CheckoutSecret: testCheckoutSecret}, wantErr: domain.ErrConfiguration},
		{name: "signed garbage", body: []byte("not json"), sig: signWebhook([]byte("not json")), wantErr: domain.ErrValidation},
		{name: "unhandled type acknowledged", body: webhookBody("payment.failed", "order_abc", "pay_123"),
			sig: signWebhook(webhookBody("payment.failed", "order_abc", "pay_123"))},
		{name: "missing ids acknowledged", body: webhookBody(domain.WebhookPaymentCaptured, "", "pay_123"),
			sig: signWebhook(webhookBody(domain.WebhookPaymentCaptured, "", "pay_123"))},
		{name: "unknown order acknowledged", body: webhookBody(domain.WebhookPaymentCaptured, "order_other", "pay_9"),
			sig: signWebhook(webhookBody(domain.WebhookPaymentCaptured, "order_other", "pay_9"))},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newPaymentFixture(t)
			f.attachOrder(t, "order_abc")
			svc := f.svc
			if tt.cfg != nil {
				svc = f.newService(*tt.cfg)
			}

			err := svc.HandleWebhook(context.Background(), tt.body, tt.sig, tt.eventID)
			if tt.wantErr != nil {
				require.ErrorIs(t, err, tt.wantErr)
			} else {
				require.NoError(t, err)
			}

			p := f.store.payment("pay-1")
			reg := f.store.registration("reg-1")
			if tt.wantCompleted {
				assert.Equal(t, domain.PaymentCompleted, p.Status)
				assert.Nil(t, p.GatewaySignature)
				assert.Equal(t, domain.PaymentCompleted, reg.PaymentStatus)
				require.Equal(t, 1, f.notifier.count())
				assert.Equal(t, domain.SourceWebhook, f.notifier.events[0].Source)
			} else {
				assert.Equal(t, domain.PaymentPending, p.Status)
				assert.Equal(t, domain.PaymentPending, reg.PaymentStatus)
				assert.Equal(t, 0, f.notifier.count())
			}
		})
	}
}

func TestPaymentService_WebhookRedeliveryDropped(t *testing.T) {
	f := newPaymentFixture(t)
	f.attachOrder(t, "order_abc")
	body := webhookBody(domain.WebhookPaymentCaptured, "order_abc", "pay_123")

	require.NoError(t, f.svc.HandleWebhook(context.Background(), body, signWebhook(body), "evt_1"))
	calls := f.store.markCompletedCalls
	require.NoError(t, f.svc.HandleWebhook(context.Background(), body, signWebhook(body), "evt_1"))

	assert.Equal(t, calls, f.store.markCompletedCalls)
	assert.Equal(t, 1, f.store.markPaidCalls)
}

func TestPaymentService_IdempotentCompletionAcrossPaths(t *testing.T) {
	body := webhookBody(domain.WebhookPaymentCaptured, "order_abc", "pay_123")
	verify := func(f *paymentFixture) error {
		_, err := f.svc.VerifyPayment(context.Background(), domain.VerifyInput{
			RegistrationID: "reg-1", GatewayOrderID: "order_abc", GatewayPaymentID: "pay_123",
			Signature: checkoutSignature("order_abc", "pay_123"),
		})
		return err
	}
	webhook := func(f *paymentFixture) error {
		return f.svc.HandleWebhook(context.Background(), body, signWebhook(body), "")
	}

	sequences := map[string][]func(*paymentFixture) error{
		"verify then webhook": {verify, webhook},
		"webhook then verify": {webhook, verify},
		"replayed mix":        {verify, webhook, verify, webhook, webhook, verify},
	}
	for name, seq := range sequences {
		t.Run(name, func(t *testing.T) {
			f := newPaymentFixture(t)
			f.attachOrder(t, "order_abc")
			for _, step := range seq {
				require.NoError(t, step(f))
			}
			assert.Equal(t, domain.PaymentCompleted, f.store.payment("pay-1").Status)
			assert.Equal(t, 1, f.store.markPaidCalls)
			assert.Equal(t, 1, f.notifier.count())
		})
	}

	t.Run("concurrent", func(t *testing.T) {
		f := newPaymentFixture(t)
		f.attachOrder(t, "order_abc")
		var wg sync.WaitGroup
		errs := make(chan error, 40)
		for i := 0; i < 20; i++ {
			wg.Add(2)
			go func() { defer wg.Done(); errs <- verify(f) }()
			go func() { defer wg.Done(); errs <- webhook(f) }()
		}
		wg.Wait()
		close(errs)
		for err := range errs {
			require.NoError(t, err)
		}
		assert.Equal(t, 1, f.store.markPaidCalls)
		assert.Equal(t, 1, f.notifier.count())
	})
}

func TestPaymentService_CompletionSupersedesSiblings(t *testing.T) {
	f := newPaymentFixture(t)
	f.attachOrder(t, "order_abc")
	sibling := domain.NewPayment("reg-1", 50000, "INR", time.Date(2025, 3, 1, 8, 0, 0, 0, time.UTC))
	require.NoError(t, memPayments{f.store}.Create(context.Background(), sibling))

	body := webhookBody(domain.WebhookPaymentCaptured, "order_abc", "pay_123")
	require.NoError(t, f.svc.HandleWebhook(context.Background(), body, signWebhook(body), ""))

	got := f.store.payment(sibling.ID)
	assert.Equal(t, domain.PaymentFailed, got.Status)
	require.NotNil(t, got.FailureReason)
	assert.Equal(t, domain.FailureReasonSuperseded, *got.FailureReason)
}

func TestPaymentService_NotifierErrorDoesNotFailVerify(t *testing.T) {
	f := newPaymentFixture(t)
	f.attachOrder(t, "order_abc")
	f.notifier.err = errors.New("broker down")

	res, err := f.svc.VerifyPayment(context.Background(), domain.VerifyInput{
		RegistrationID: "reg-1", GatewayOrderID: "order_abc", GatewayPaymentID: "pay_123",
		Signature: checkoutSignature("order_abc", "pay_123"),
	})
	require.NoError(t, err)
	assert.True(t, res.Success)
}

func TestPaymentService_ReportCheckoutFailure(t *testing.T) {
	ctx := context.Background()

	t.Run("pending payment fails and webhook can still complete it", func(t *testing.T) {
		f := newPaymentFixture(t)
		f.attachOrder(t, "order_abc")

		err := f.svc.ReportCheckoutFailure(ctx, domain.CheckoutFailureInput{RegistrationID: "reg-1", GatewayOrderID: "order_abc", Reason: "card declined", UserID: "user-1"})
		require.NoError(t, err)
		p := f.store.payment("pay-1")
		assert.Equal(t, domain.PaymentFailed, p.Status)
		assert.Equal(t, "checkout_failed: card declined", *p.FailureReason)
		assert.Equal(t, domain.PaymentFailed, f.store.registration("reg-1").PaymentStatus)

		body := webhookBody(domain.WebhookPaymentCaptured, "order_abc", "pay_124")
		require.NoError(t, f.svc.HandleWebhook(ctx, body, signWebhook(body), ""))
		assert.Equal(t, domain.PaymentCompleted, f.store.payment("pay-1").Status)
		assert.Nil(t, f.store.payment("pay-1").FailureReason)
		assert.Equal(t, domain.PaymentCompleted, f.store.registration("reg-1").PaymentStatus)
	})

	t.Run("long reason cut on a rune boundary", func(t *testing.T) {
		f := newPaymentFixture(t)
		f.attachOrder(t, "order_abc")
		reason := strings.Repeat("a", maxFailureReasonLen-1) + "é" + "tail"

		err := f.svc.ReportCheckoutFailure(ctx, domain.CheckoutFailureInput{RegistrationID: "reg-1", GatewayOrderID: "order_abc", Reason: reason, UserID: "user-1"})
		require.NoError(t, err)
		stored := *f.store.payment("pay-1").FailureReason
		assert.True(t, utf8.ValidString(stored))
		assert.Equal(t, "checkout_failed: "+strings.Repeat("a", maxFailureReasonLen-1), stored)
	})

	t.Run("completed payment untouched", func(t *testing.T) {
		f := newPaymentFixture(t)
		f.attachOrder(t, "order_abc")
		body := webhookBody(domain.WebhookPaymentCaptured, "order_abc", "pay_123")
		require.NoError(t, f.svc.HandleWebhook(ctx, body, signWebhook(body), ""))

		err := f.svc.ReportCheckoutFailure(ctx, domain.CheckoutFailureInput{RegistrationID: "reg-1", GatewayOrderID: "order_abc"})
		require.ErrorIs(t, err, domain.ErrInvalidState)
		assert.Equal(t, domain.PaymentCompleted, f.store.payment("pay-1").Status)
		assert.Equal(t, domain.PaymentCompleted, f.store.registration("reg-1").PaymentStatus)
	})

	t.Run("free event", func(t *testing.T) {
		f := newPaymentFixture(t)
		err := f.svc.ReportCheckoutFailure(ctx, domain.CheckoutFailureInput{RegistrationID: "reg-free"})
		require.ErrorIs(t, err, domain.ErrInvalidState)
		assert.Equal(t, domain.PaymentCompleted, f.store.registration("reg-free").PaymentStatus)
	})
}

func TestTruncateUTF8(t *testing.T) {
	tests := []struct {
		in   string
		n    int
		want string
	}{
		{in: "short", n: 10, want: "short"},
		{in: "abcdef", n: 3, want: "abc"},
		{in: "abé", n: 3, want: "ab"},
		{in: "abé", n: 4, want: "abé"},
		{in: "日本", n: 5, want: "日"},
		{in: "é", n: 1, want: ""},
	}
	for _, tt := range tests {
		got := truncateUTF8(tt.in, tt.n)
		assert.Equal(t, tt.want, got, "%q[:%d]", tt.in, tt.n)
		assert.True(t, utf8.ValidString(got))
	}
}

func TestPaymentService_HandleWebhook_FlatPaymentPayload(t *testing.T) {
	ctx := context.Background()
	f := newPaymentFixture(t)
	f.attachOrder(t, "order_abc")
	body := []byte(`{"event":"payment.captured","payload":{"payment":{"id":"pay_123","entity":"payment","order_id":"order_abc","amount":50000}}}`)

	require.NoError(t, f.svc.HandleWebhook(ctx, body, signWebhook(body), "evt_flat"))

	p := f.store.payment("pay-1")
	assert.Equal(t, domain.PaymentCompleted, p.Status)
	require.NotNil(t, p.GatewayPaymentID)
	assert.Equal(t, "pay_123", *p.GatewayPaymentID)
	assert.Equal(t, domain.PaymentCompleted, f.store.registration("reg-1").PaymentStatus)
}
