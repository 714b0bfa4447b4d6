package dispatcher

import (
	"context"

	"github.com/sirupsen/logrus"

	"github.com/nijaru/tubeprompt/browser"
	"github.com/nijaru/tubeprompt/db"
	"github.com/nijaru/tubeprompt/errors"
	"github.com/nijaru/tubeprompt/models"
	"github.com/nijaru/tubeprompt/poll"
	"github.com/nijaru/tubeprompt/prompt"
	"github.com/nijaru/tubeprompt/validation"
)

// StartDelivery resolves the chat tab and delivers in the background. The
// outcome arrives as DELIVERY_DONE.
func (d *Dispatcher) StartDelivery(ctx context.Context, req models.PromptRequest) (string, error) {
	const op = "Dispatcher.StartDelivery"

	if err := validation.ValidatePrompt(req); err != nil {
		return "", errors.InvalidInput(op, err, err.Error())
	}
	chatTabID, err := d.resolveChatTab(ctx, req.ChatTabID)
	if err != nil {
		return "", err
	}
	req.ChatTabID = chatTabID

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		ctx, cancel := context.WithTimeout(d.base, d.cfg.Delivery.EditorTimeout+d.cfg.WriteTimeout)
		defer cancel()
		d.DeliverToChatGPT(ctx, req)
	}()
	return chatTabID, nil
}

// DeliverToChatGPT composes the prompt, waits for the chat editor, focuses it
// and inserts the text. It returns the transcript character count reported
// in DELIVERY_DONE.
func (d *Dispatcher) DeliverToChatGPT(ctx context.Context, req models.PromptRequest) (int, error) {
	const op = "Dispatcher.DeliverToChatGPT"

	chatTabID, err := d.resolveChatTab(ctx, req.ChatTabID)
	if err != nil {
		d.publish(models.MsgDeliveryDone, req.RequestID, models.DeliveryDone{Error: err.Error()})
		return 0, err
	}
	log := d.logger.WithFields(logrus.Fields{"op": op, "request_id": req.RequestID, "chat_tab_id": chatTabID})

	source, cachedDescription := d.sourceContext(ctx, req.RequestID)
	description := req.Description
	if description == "" {
		description = cachedDescription
	}
	target := req.TargetLanguageCode
	if target == "" {
		target = d.preference(ctx, db.PrefPreferredLanguage, prompt.DefaultLanguage)
	}

	p := prompt.Compose(prompt.Input{
		Transcript:         req.Transcript,
		Description:        description,
		IncludeDescription: req.IncludeDescription,
		SourceLangCode:     source,
		TargetLangCode:     target,
	})
	log.WithFields(logrus.Fields{
		"kind":       p.Kind,
		"source":     source,
		"target":     p.Language,
		"char_count": p.CharCount,
	}).Info("Prompt composed")

	if err := d.insert(ctx, chatTabID, p.Text); err != nil {
		log.WithError(err).Error("Delivery failed")
		d.publish(models.MsgDeliveryDone, req.RequestID, models.DeliveryDone{ChatTabID: chatTabID, Error: err.Error()})
		return 0, err
	}

	log.Info("Prompt delivered")
	d.publish(models.MsgDeliveryDone, req.RequestID, models.DeliveryDone{ChatTabID: chatTabID, CharCount: p.CharCount})
	return p.CharCount, nil
}

func (d *Dispatcher) insert(ctx context.Context, chatTabID, text string) error {
	const op = "Dispatcher.insert"

	page, err := d.host.Tab(ctx, chatTabID)
	if err != nil {
		return errors.Unavailable(op, err, "chat tab not available")
	}

	selector := d.cfg.Delivery.EditorSelector
	if selector == "" {
		selector = browser.EditorSelector
	}

	opts := poll.Options{Interval: d.cfg.Delivery.PollInterval, Timeout: d.cfg.Delivery.EditorTimeout}
	err = poll.Until(ctx, opts, func(ctx context.Context) (bool, error) {
		return page.Exists(ctx, selector)
	})
	if err != nil {
		return errors.Unavailable(op, err, "chat editor did not appear")
	}

	if err := page.Focus(ctx, selector); err != nil {
		return errors.Unavailable(op, err, "failed to focus chat editor")
	}
	if err := page.InsertText(ctx, text); err != nil {
		return errors.Unavailable(op, err, "failed to insert prompt")
	}
	return nil
}

// resolveChatTab prefers the explicit id, then the saved selection, then a
// visible ChatGPT tab.
func (d *Dispatcher) resolveChatTab(ctx context.Context, chatTabID string) (string, error) {
	const op = "Dispatcher.resolveChatTab"

	if chatTabID != "" {
		return chatTabID, nil
	}
	if saved := d.preference(ctx, db.PrefSelectedChatTab, ""); saved != "" {
		return saved, nil
	}
	page, err := d.host.ActiveTab(ctx, func(u string) bool {
		return browser.DetectPlatform(u) == browser.ChatGPT
	})
	if err != nil {
		return "", errors.InvalidInput(op, err, "no ChatGPT tab selected")
	}
	return page.ID(), nil
}

// sourceContext returns the source language and description recorded for
// the request. Only a delivery that names no request falls back to the most
// recent accepted transcript; another request's record is never borrowed.
func (d *Dispatcher) sourceContext(ctx context.Context, requestID string) (string, string) {
	if requestID != "" {
		a, err := d.store.GetAcquisition(ctx, requestID)
		if err != nil || !a.IsReady() {
			d.logger.WithField("request_id", requestID).Debug("No accepted transcript for request, using defaults")
			return prompt.DefaultLanguage, ""
		}
		return langOrDefault(a.SourceLangCode), a.Description
	}
	if a, err := d.store.LatestReady(ctx); err == nil {
		return langOrDefault(a.SourceLangCode), a.Description
	}
	return prompt.DefaultLanguage, ""
}

func langOrDefault(code string) string {
	if code == "" {
		return prompt.DefaultLanguage
	}
	return code
}
