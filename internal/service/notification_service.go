package service

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"pix_processor/internal/domain"
)

type NotificationType string

const (
	NotificationEmail NotificationType = "email"
	NotificationSMS   NotificationType = "sms"
	NotificationPush  NotificationType = "push"
	NotificationSlack NotificationType = "slack"
)

const (
	fraudChannel   = "#fraud-alerts"
	securityMailto = "security@example.com"
)

type NotificationService struct {
	emailService EmailService
	smsService   SMSService
	pushService  PushService
	slackService SlackService
	messageQueue chan NotificationMessage
	workers      int
	shutdownChan chan struct{}
	wg           sync.WaitGroup
	logger       *slog.Logger
}

type NotificationMessage struct {
	Type      NotificationType
	Recipient string
	Subject   string
	Message   string
	Priority  int
	Metadata  map[string]string
	CreatedAt time.Time
}

type EmailService interface {
	SendEmail(to, subject, body string) error
}

type SMSService interface {
	SendSMS(to, message string) error
}

type PushService interface {
	SendPush(deviceID, title, message string) error
}

type SlackService interface {
	SendMessage(channel, message string) error
}

func NewNotificationService(
	emailService EmailService,
	smsService SMSService,
	pushService PushService,
	slackService SlackService,
	workers int,
	logger *slog.Logger,
) *NotificationService {
	if logger == nil {
		logger = slog.Default()
	}
	if workers <= 0 {
		workers = 1
	}

	service := &NotificationService{
		emailService: emailService,
		smsService:   smsService,
		pushService:  pushService,
		slackService: slackService,
		messageQueue: make(chan NotificationMessage, 1000),
		workers:      workers,
		shutdownChan: make(chan struct{}),
		logger:       logger,
	}

	service.startWorkers()

	return service
}

// NotifyTransfer tells the sender how their transfer ended.
func (s *NotificationService) NotifyTransfer(ctx context.Context, t *domain.Transfer) error {
	return s.SendTransferNotification(ctx, t, t.SenderUserID, NotificationPush)
}

func (s *NotificationService) SendTransferNotification(
	ctx context.Context,
	t *domain.Transfer,
	recipient string,
	notificationType NotificationType,
) error {
	var subject, message string
	amount := t.Amount.StringFixed(2)

	switch t.Status {
	case domain.StatusCompleted:
		subject = "Transfer Completed"
		message = fmt.Sprintf("Your transfer of R$ %s has been completed.", amount)
	case domain.StatusFailed:
		subject = "Transfer Failed"
		message = fmt.Sprintf("Your transfer of R$ %s has failed. Reason: %s", amount, t.FailureReason)
	case domain.StatusPending:
		subject = "Transfer Scheduled"
		message = fmt.Sprintf("Your transfer of R$ %s is scheduled for %s.", amount, t.ScheduledFor.Format("2006-01-02 15:04"))
	case domain.StatusRefunded:
		subject = "Transfer Refunded"
		message = fmt.Sprintf("Your transfer of R$ %s was refunded to your account.", amount)
	default:
		subject = "Transfer Update"
		message = fmt.Sprintf("Your transfer of R$ %s is now %s.", amount, t.Status)
	}

	notification := NotificationMessage{
		Type:      notificationType,
		Recipient: recipient,
		Subject:   subject,
		Message:   message,
		Priority:  5,
		Metadata: map[string]string{
			"transfer_id": t.ID,
			"status":      string(t.Status),
			"risk_score":  fmt.Sprintf("%d", t.RiskScore),
		},
		CreatedAt: time.Now(),
	}

	select {
	case s.messageQueue <- notification:
		s.logger.Info("Notification queued",
			slog.String("type", string(notificationType)),
			slog.String("recipient", recipient),
			slog.String("transfer_id", t.ID))
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// NotifyAlert routes a fraud alert to the security team.
func (s *NotificationService) NotifyAlert(ctx context.Context, alert *domain.Alert) error {
	message := fmt.Sprintf(
		"Fraud Alert\nUser: %s\nTransfer ID: %s\nRisk Score: %d\nRules: %s",
		alert.UserID, alert.TransferID, alert.Score, strings.Join(alert.TriggeredRules, ", "),
	)

	notifications := []NotificationMessage{
		{
			Type:      NotificationSlack,
			Recipient: fraudChannel,
			Subject:   fmt.Sprintf("Fraud Alert - %s", alert.Severity),
			Message:   message,
			Priority:  10,
			Metadata: map[string]string{
				"alert_id":    alert.ID,
				"transfer_id": alert.TransferID,
				"severity":    string(alert.Severity),
			},
			CreatedAt: time.Now(),
		},
	}
	if alert.Severity == domain.SeverityCritical || alert.Severity == domain.SeverityHigh {
		notifications = append(notifications, NotificationMessage{
			Type:      NotificationEmail,
			Recipient: securityMailto,
			Subject:   fmt.Sprintf("Fraud Alert: %s - %s", alert.Severity, alert.ID),
			Message:   message,
			Priority:  10,
			Metadata: map[string]string{
				"alert_id": alert.ID,
				"severity": string(alert.Severity),
			},
			CreatedAt: time.Now(),
		})
	}

	for _, notification := range notifications {
		select {
		case s.messageQueue <- notification:
			s.logger.Warn("Fraud alert notification queued",
				slog.String("type", string(notification.Type)),
				slog.String("alert_id", alert.ID),
				slog.String("severity", string(alert.Severity)))
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	return nil
}

func (s *NotificationService) startWorkers() {
	for i := 0; i < s.workers; i++ {
		s.wg.Add(1)
		go s.worker(i)
	}
}

func (s *NotificationService) worker(id int) {
	defer s.wg.Done()

	s.logger.Debug("Notification worker started", slog.Int("worker_id", id))

	for {
		select {
		case msg := <-s.messageQueue:
			s.processNotification(msg, id)
		case <-s.shutdownChan:
			s.drain(id)
			s.logger.Debug("Notification worker stopping", slog.Int("worker_id", id))
			return
		}
	}
}

// drain delivers whatever is still queued when shutdown begins.
func (s *NotificationService) drain(workerID int) {
	for {
		select {
		case msg := <-s.messageQueue:
			s.processNotification(msg, workerID)
		default:
			return
		}
	}
}

func (s *NotificationService) processNotification(msg NotificationMessage, workerID int) {
	startTime := time.Now()
	var err error

	switch msg.Type {
	case NotificationEmail:
		err = s.emailService.SendEmail(msg.Recipient, msg.Subject, msg.Message)
	case NotificationSMS:
		err = s.smsService.SendSMS(msg.Recipient, msg.Message)
	case NotificationPush:
		err = s.pushService.SendPush(msg.Recipient, msg.Subject, msg.Message)
	case NotificationSlack:
		err = s.slackService.SendMessage(msg.Recipient, msg.Message)
	default:
		err = fmt.Errorf("unknown notification type: %s", msg.Type)
	}

	duration := time.Since(startTime)

	if err != nil {
		s.logger.Error("Failed to send notification",
			slog.String("type", string(msg.Type)),
			slog.String("recipient", msg.Recipient),
			slog.String("error", err.Error()),
			slog.Int("worker_id", workerID),
			slog.Duration("duration", duration))
	} else {
		s.logger.Info("Notification sent successfully",
			slog.String("type", string(msg.Type)),
			slog.String("recipient", msg.Recipient),
			slog.Int("worker_id", workerID),
			slog.Duration("duration", duration))
	}
}

func (s *NotificationService) Shutdown(ctx context.Context) error {
	close(s.shutdownChan)

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		s.logger.Info("Notification service shutdown complete")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// LogSender delivers every channel to the structured log. It backs the
// service when no real providers are configured.
type LogSender struct {
	Logger *slog.Logger
}

func (l LogSender) SendEmail(to, subject, body string) error {
	l.Logger.Info("email", slog.String("to", to), slog.String("subject", subject))
	return nil
}

func (l LogSender) SendSMS(to, message string) error {
	l.Logger.Info("sms", slog.String("to", to))
	return nil
}

func (l LogSender) SendPush(deviceID, title, message string) error {
	l.Logger.Info("push", slog.String("device_id", deviceID), slog.String("title", title))
	return nil
}

func (l LogSender) SendMessage(channel, message string) error {
	l.Logger.Info("chat", slog.String("channel", channel))
	return nil
}

// MockSender records deliveries for tests.
type MockSender struct {
	mu   sync.Mutex
	Sent []NotificationMessage
}

func (m *MockSender) record(t NotificationType, to, subject, body string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Sent = append(m.Sent, NotificationMessage{Type: t, Recipient: to, Subject: subject, Message: body})
	return nil
}

func (m *MockSender) SendEmail(to, subject, body string) error {
	return m.record(NotificationEmail, to, subject, body)
}

func (m *MockSender) SendSMS(to, message string) error {
	return m.record(NotificationSMS, to, "", message)
}

func (m *MockSender) SendPush(deviceID, title, message string) error {
	return m.record(NotificationPush, deviceID, title, message)
}

func (m *MockSender) SendMessage(channel, message string) error {
	return m.record(NotificationSlack, channel, "", message)
}

func (m *MockSender) Messages() []NotificationMessage {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]NotificationMessage(nil), m.Sent...)
}
