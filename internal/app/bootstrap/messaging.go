package bootstrap

import (
	"context"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/service/sesv2"

	appconfig "github.com/mhire/triage-assistant/internal/config"
	"github.com/mhire/triage-assistant/internal/conversation"
	"github.com/mhire/triage-assistant/internal/events"
	"github.com/mhire/triage-assistant/internal/messaging"
	"github.com/mhire/triage-assistant/internal/notify"
	"github.com/mhire/triage-assistant/internal/observability/metrics"
	"github.com/mhire/triage-assistant/pkg/logging"
)

// BuildMessagingHandler creates the SMS handler with the Twilio sender and
// the given dedupe store. A sender that cannot be built answers every send
// with a delivery error.
func BuildMessagingHandler(cfg *appconfig.Config, engine *conversation.Engine, processed events.ProcessedStore, m *metrics.MessagingMetrics, logger *logging.Logger) (*messaging.Handler, error) {
	if cfg == nil {
		return nil, fmt.Errorf("bootstrap: config is required")
	}
	if engine == nil {
		return nil, fmt.Errorf("bootstrap: conversation engine is required")
	}

	sender, _ := messaging.BuildSender(messaging.SenderConfig{
		AccountSID: cfg.TwilioAccountSID,
		AuthToken:  cfg.TwilioAuthToken,
		FromNumber: cfg.TwilioFromNumber,
	}, logger, messaging.WithSenderMetrics(m))

	signingToken := strings.TrimSpace(cfg.TwilioWebhookSecret)
	if signingToken == "" {
		signingToken = cfg.TwilioAuthToken
	}
	validate := cfg.TwilioValidate && signingToken != ""
	if cfg.TwilioValidate && !validate && logger != nil {
		logger.Warn("twilio signature validation requested without a token; disabled")
	}

	org, _ := conversation.ParseOrgType(cfg.DefaultOrgType)
	return messaging.NewHandler(messaging.HandlerConfig{
		Engine:            engine,
		Sender:            sender,
		Deliveries:        messaging.NewDeliveryLog(cfg.DeliveryLogSize),
		Processed:         processed,
		Metrics:           m,
		Logger:            logger,
		FromNumber:        cfg.TwilioFromNumber,
		AuthToken:         signingToken,
		ValidateSignature: validate,
		PublicBaseURL:     cfg.PublicBaseURL,
		DefaultOrgType:    org,
	}), nil
}

// BuildEmailSender selects the staff email provider. Missing credentials fall
// back to the logging stub.
func BuildEmailSender(ctx context.Context, cfg *appconfig.Config, loadAWS AWSConfigLoader, logger *logging.Logger) notify.EmailSender {
	if logger == nil {
		logger = logging.Default()
	}
	if cfg == nil {
		return notify.NewStubEmailSender(logger)
	}
	if ctx == nil {
		ctx = context.Background()
	}

	switch cfg.EmailProvider {
	case "ses":
		if strings.TrimSpace(cfg.SESFromEmail) == "" || loadAWS == nil {
			logger.Warn("ses email not configured; using stub sender")
			return notify.NewStubEmailSender(logger)
		}
		awsCfg, err := loadAWS(ctx)
		if err != nil {
			logger.Warn("ses email unavailable; using stub sender", "error", err)
			return notify.NewStubEmailSender(logger)
		}
		logger.Info("staff email via ses", "from", cfg.SESFromEmail)
		return notify.NewSESSender(sesv2.NewFromConfig(awsCfg), notify.SESConfig{
			FromEmail: cfg.SESFromEmail,
			FromName:  cfg.SESFromName,
		}, logger)
	case "sendgrid":
		sender := notify.NewSendGridSender(notify.SendGridConfig{
			APIKey:    cfg.SendGridAPIKey,
			FromEmail: cfg.SendGridFromEmail,
			FromName:  cfg.SendGridFromName,
		}, logger)
		if sender == nil || strings.TrimSpace(cfg.SendGridFromEmail) == "" {
			logger.Warn("sendgrid email not configured; using stub sender")
			return notify.NewStubEmailSender(logger)
		}
		logger.Info("staff email via sendgrid", "from", cfg.SendGridFromEmail)
		return sender
	default:
		return notify.NewStubEmailSender(logger)
	}
}

// BuildNotifier wires the staff notification service.
func BuildNotifier(ctx context.Context, cfg *appconfig.Config, loadAWS AWSConfigLoader, logger *logging.Logger) *notify.Service {
	staff := ""
	if cfg != nil {
		staff = cfg.StaffEmail
	}
	svc := notify.NewService(BuildEmailSender(ctx, cfg, loadAWS, logger), staff, logger)
	if len(svc.Recipients()) == 0 && logger != nil {
		logger.Warn("STAFF_EMAIL not set; staff notifications disabled")
	}
	return svc
}
