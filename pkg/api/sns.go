package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"

	"github.com/telekom/alarm-escalator/pkg/system"
)

const (
	snsTypeHeader = "x-amz-sns-message-type"

	snsSubscriptionConfirmation = "SubscriptionConfirmation"
	snsNotification             = "Notification"
	snsUnsubscribeConfirmation  = "UnsubscribeConfirmation"

	maxSNSBody = 256 * 1024
)

type snsMessage struct {
	Type             string `json:"Type"`
	MessageID        string `json:"MessageId"`
	TopicArn         string `json:"TopicArn"`
	Subject          string `json:"Subject,omitempty"`
	Message          string `json:"Message"`
	Timestamp        string `json:"Timestamp"`
	Token            string `json:"Token,omitempty"`
	SubscribeURL     string `json:"SubscribeURL,omitempty"`
	SignatureVersion string `json:"SignatureVersion"`
	Signature        string `json:"Signature"`
	SigningCertURL   string `json:"SigningCertURL"`
}

type snsEndpoint struct {
	invoker       Invoker
	allowedTopics map[string]struct{}
	http          *resty.Client
	verifier      *signatureVerifier
	log           *zap.SugaredLogger
	// confirmHost reports whether a SubscribeURL host may be contacted
	confirmHost func(host string) bool
}

func newSNSEndpoint(invoker Invoker, allowedTopics []string, log *zap.SugaredLogger) *snsEndpoint {
	topics := make(map[string]struct{}, len(allowedTopics))
	for _, arn := range allowedTopics {
		topics[arn] = struct{}{}
	}
	e := &snsEndpoint{
		invoker:       invoker,
		allowedTopics: topics,
		http:          resty.New().SetTimeout(5 * time.Second).SetRetryCount(0),
		log:           log,
		confirmHost:   isSNSHost,
	}
	e.verifier = newSignatureVerifier(e.fetchCertificate)
	return e
}

func (e *snsEndpoint) topicAllowed(arn string) bool {
	if len(e.allowedTopics) == 0 {
		return false
	}
	_, ok := e.allowedTopics[arn]
	return ok
}

func (e *snsEndpoint) handle(c *gin.Context) {
	log := system.GetReqLogger(c, e.log)

	body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxSNSBody+1))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "failed to read body"})
		return
	}
	if len(body) > maxSNSBody {
		c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "message too large"})
		return
	}

	var msg snsMessage
	if err := json.Unmarshal(body, &msg); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "body is not an SNS message"})
		return
	}
	if msgType := c.GetHeader(snsTypeHeader); msgType != "" && msgType != msg.Type {
		c.JSON(http.StatusBadRequest, gin.H{"error": "message type header does not match body"})
		return
	}
	if !e.topicAllowed(msg.TopicArn) {
		log.Warnw("Rejecting SNS message from unknown topic", "topicArn", msg.TopicArn, "type", msg.Type)
		c.JSON(http.StatusForbidden, gin.H{"error": "topic not allowed"})
		return
	}
	switch msg.Type {
	case snsSubscriptionConfirmation, snsNotification, snsUnsubscribeConfirmation:
	default:
		c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("unsupported SNS message type %q", msg.Type)})
		return
	}
	if err := e.verifier.verify(c.Request.Context(), msg); err != nil {
		log.Warnw("Rejecting SNS message with unverifiable signature",
			"topicArn", msg.TopicArn, "messageId", msg.MessageID, "error", err.Error())
		if errors.Is(err, errInvalidSignature) {
			c.JSON(http.StatusForbidden, gin.H{"error": "invalid signature"})
		} else {
			c.JSON(http.StatusBadGateway, gin.H{"error": "signing certificate unavailable"})
		}
		return
	}

	switch msg.Type {
	case snsSubscriptionConfirmation:
		if err := e.confirm(c, msg); err != nil {
			log.Errorw("SNS subscription confirmation failed", "topicArn", msg.TopicArn, "error", err.Error())
			c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
			return
		}
		log.Infow("Confirmed SNS subscription", "topicArn", msg.TopicArn)
		c.JSON(http.StatusOK, gin.H{"status": "confirmed"})

	case snsNotification:
		resp, err := e.invoker.Invoke(c.Request.Context(), json.RawMessage(body))
		if err != nil {
			log.Errorw("Escalation invocation failed", "messageId", msg.MessageID, "error", err.Error())
			c.JSON(http.StatusInternalServerError, gin.H{"error": "invocation failed"})
			return
		}
		c.JSON(http.StatusOK, resp)

	case snsUnsubscribeConfirmation:
		log.Infow("SNS subscription removed", "topicArn", msg.TopicArn)
		c.JSON(http.StatusOK, gin.H{"status": "unsubscribed"})
	}
}

func (e *snsEndpoint) confirm(c *gin.Context, msg snsMessage) error {
	u, err := url.Parse(msg.SubscribeURL)
	if err != nil || u.Scheme != "https" || !e.confirmHost(u.Hostname()) {
		return fmt.Errorf("refusing subscribe URL %q", msg.SubscribeURL)
	}
	resp, err := e.http.R().SetContext(c.Request.Context()).Get(u.String())
	if err != nil {
		return fmt.Errorf("confirming subscription: %w", err)
	}
	if resp.IsError() {
		return fmt.Errorf("confirming subscription: HTTP %d", resp.StatusCode())
	}
	return nil
}
