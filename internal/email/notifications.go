package email

import (
	"fmt"
	"strings"

	"github.com/brademus/investorkonnect-sub002/internal/models"
)

// NotificationKind labels the negotiation event behind an email.
type NotificationKind string

const (
	KindCounterOfferProposed NotificationKind = "counter_offer_proposed"
	KindCounterOfferAccepted NotificationKind = "counter_offer_accepted"
	KindCounterOfferDeclined NotificationKind = "counter_offer_declined"
	KindAgreementReadyToSign NotificationKind = "agreement_ready_to_sign"
	KindAgreementFullySigned NotificationKind = "agreement_fully_signed"
)

// Notification is a rendered negotiation email, ready for a Sender.
type Notification struct {
	Kind    NotificationKind
	Subject string
	Body    string
}

// CounterOfferNotification renders the email for a proposed or responded
// counter-offer.
func CounterOfferNotification(offer *models.CounterOffer) Notification {
	switch offer.Status {
	case models.CounterOfferAccepted:
		return Notification{
			Kind:    KindCounterOfferAccepted,
			Subject: "Your counter-offer was accepted",
			Body: fmt.Sprintf("The %s accepted the counter-offer on deal %s. The agreement will be regenerated with the new terms before anyone signs again.",
				respondedBy(offer), offer.DealID),
		}
	case models.CounterOfferDeclined:
		return Notification{
			Kind:    KindCounterOfferDeclined,
			Subject: "Your counter-offer was declined",
			Body: fmt.Sprintf("The %s declined the counter-offer on deal %s. The previous terms remain on the table.",
				respondedBy(offer), offer.DealID),
		}
	default:
		return Notification{
			Kind:    KindCounterOfferProposed,
			Subject: "New counter-offer on your deal",
			Body: fmt.Sprintf("The %s proposed new commission terms on deal %s. Review and respond to continue the negotiation.",
				offer.FromRole, offer.DealID),
		}
	}
}

// AgreementReadyNotification renders the "your turn to sign" email.
func AgreementReadyNotification(agreement *models.LegalAgreement, role models.Role) Notification {
	return Notification{
		Kind:    KindAgreementReadyToSign,
		Subject: "Agreement ready for your signature",
		Body: fmt.Sprintf("The representation agreement for deal %s is ready for the %s to sign.",
			agreement.DealID, role),
	}
}

// AgreementSignedNotification renders the completion email.
func AgreementSignedNotification(agreement *models.LegalAgreement) Notification {
	return Notification{
		Kind:    KindAgreementFullySigned,
		Subject: "Agreement fully signed",
		Body: fmt.Sprintf("The representation agreement for deal %s has been signed by both parties.",
			agreement.DealID),
	}
}

// BuildRawMessage assembles the complete SMTP message.
func BuildRawMessage(from string, to []string, subject, body string) []byte {
	var msg strings.Builder
	msg.WriteString(fmt.Sprintf("From: %s\r\n", from))
	msg.WriteString(fmt.Sprintf("To: %s\r\n", strings.Join(to, ", ")))
	msg.WriteString(fmt.Sprintf("Subject: %s\r\n", subject))
	msg.WriteString("MIME-Version: 1.0\r\n")
	msg.WriteString("Content-Type: text/plain; charset=\"utf-8\"\r\n")
	msg.WriteString("\r\n")
	msg.WriteString(body)
	msg.WriteString("\r\n")
	return []byte(msg.String())
}

func respondedBy(offer *models.CounterOffer) models.Role {
	if offer.RespondedByRole != nil {
		return *offer.RespondedByRole
	}
	return offer.FromRole.Other()
}
