package notify

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/SherClockHolmes/webpush-go"
	log "github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

const (
	// Topic groups pushes so a newer alert replaces an undelivered one.
	Topic = "flowcam_jitter"

	// Alerts at least severeRatio times their threshold are pushed urgently.
	severeRatio  = 2
	severeTTL    = 60
	moderateTTL  = 600
	pushTitle    = "Camera jitter"
	testFallback = 1.5
)

type VAPIDKey struct {
	ID      uint
	Public  string
	Private string
}

// Subscriber is a browser registered for jitter alerts.
type Subscriber struct {
	gorm.Model

	Endpoint string `gorm:"uniqueIndex;size:512"`
	Auth     string `json:"-"`
	P256dh   string `json:"-"`
	// MinMagnitude, in pixels, mutes alerts weaker than this.
	MinMagnitude float64
	Peer         string

	Delivered    int
	Failed       int
	LastDelivery *time.Time
	LastError    string
}

func (s *Subscriber) subscription() *webpush.Subscription {
	return &webpush.Subscription{
		Endpoint: s.Endpoint,
		Keys: webpush.Keys{
			Auth:   s.Auth,
			P256dh: s.P256dh,
		},
	}
}

// PushMessage is the payload delivered to the browser for one alert.
type PushMessage struct {
	Title     string    `json:"title"`
	Body      string    `json:"body"`
	Tag       string    `json:"tag"`
	Time      time.Time `json:"time"`
	Frame     uint64    `json:"frame"`
	Hx        float32   `json:"hx"`
	Hy        float32   `json:"hy"`
	Magnitude float64   `json:"magnitude"`
	Threshold float64   `json:"threshold"`
}

func NewPushMessage(n *Notification) *PushMessage {
	return &PushMessage{
		Title:     pushTitle,
		Body:      fmt.Sprintf("%.1f px of shake at %s (alert above %.1f px)", n.Magnitude, n.TimeString, n.Threshold),
		Tag:       Topic,
		Time:      n.Time,
		Frame:     n.Frame,
		Hx:        n.Hx,
		Hy:        n.Hy,
		Magnitude: n.Magnitude,
		Threshold: n.Threshold,
	}
}

// deliveryOptions returns the TTL in seconds and the urgency of an alert.
// Severe shake is urgent and goes stale quickly.
func deliveryOptions(n *Notification) (int, webpush.Urgency) {
	if n.Threshold > 0 && n.Magnitude >= severeRatio*n.Threshold {
		return severeTTL, webpush.UrgencyHigh
	}
	return moderateTTL, webpush.UrgencyNormal
}

// SendFunc delivers one push, matching webpush.SendNotification.
type SendFunc func(payload []byte, s *webpush.Subscription, o *webpush.Options) (*http.Response, error)

// WebPush is a NotifyListener pushing jitter alerts to subscribed browsers.
type WebPush struct {
	// Key is the VAPID key, generated on first start and kept in the database.
	Key *VAPIDKey
	// Contact is the mailto or https address given to push services.
	Contact string

	send SendFunc
	db   *gorm.DB

	l    sync.Mutex
	last *Notification
}

func NewWebPush(db *gorm.DB, contact string) (*WebPush, error) {
	if err := db.AutoMigrate(&VAPIDKey{}, &Subscriber{}); err != nil {
		return nil, err
	}

	p := &WebPush{
		Key:     &VAPIDKey{},
		Contact: contact,
		send:    webpush.SendNotification,
		db:      db,
	}
	err := db.First(p.Key).Error
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		priv, pub, err := webpush.GenerateVAPIDKeys()
		if err != nil {
			return nil, err
		}
		p.Key.Private = priv
		p.Key.Public = pub
		if err := db.Create(p.Key).Error; err != nil {
			return nil, err
		}
		log.Infof("Web push VAPID keys generated")
	case err != nil:
		return nil, err
	default:
		log.Infof("Web push VAPID keys loaded from database")
	}
	return p, nil
}

func (p *WebPush) RegisterHandlers(mux *http.ServeMux) {
	mux.HandleFunc("/push/pubkey", p.handlePubkey)
	mux.HandleFunc("/push/subscribers", p.handleSubscribers)
	mux.HandleFunc("/push/subscribe", p.handleSubscribe)
	mux.HandleFunc("/push/unsubscribe", p.handleUnsubscribe)
	// Resends the last alert, or a sample one, to every subscriber.
	mux.HandleFunc("/push/test", p.handleTest)
}

func (p *WebPush) handlePubkey(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain")
	io.WriteString(w, p.Key.Public)
}

type subscribeRequest struct {
	Subscription webpush.Subscription `json:"subscription"`
	MinMagnitude float64              `json:"min_magnitude"`
}

func decodePost(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	if r.Method != http.MethodPost {
		http.Error(w, "Invalid request method", http.StatusMethodNotAllowed)
		return false
	}
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return false
	}
	return true
}

func (p *WebPush) handleSubscribe(w http.ResponseWriter, r *http.Request) {
	var req subscribeRequest
	if !decodePost(w, r, &req) {
		return
	}
	if req.Subscription.Endpoint == "" || req.MinMagnitude < 0 {
		http.Error(w, "subscription needs an endpoint and a non-negative min_magnitude", http.StatusBadRequest)
		return
	}

	// Browsers resubscribe with the same endpoint when keys rotate.
	s := &Subscriber{}
	err := p.db.Where("endpoint = ?", req.Subscription.Endpoint).First(s).Error
	if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	s.Endpoint = req.Subscription.Endpoint
	s.Auth = req.Subscription.Keys.Auth
	s.P256dh = req.Subscription.Keys.P256dh
	s.MinMagnitude = req.MinMagnitude
	s.Peer = r.RemoteAddr
	if err := p.db.Save(s).Error; err != nil {
		log.Errorf("Failed to save push subscriber: %v", err)
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	log.WithField("peer", s.Peer).Infof("Push subscriber %d registered, alerts from %.1f px", s.ID, s.MinMagnitude)
}

func (p *WebPush) handleUnsubscribe(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Endpoint string `json:"endpoint"`
	}
	if !decodePost(w, r, &req) {
		return
	}
	res := p.db.Unscoped().Where("endpoint = ?", req.Endpoint).Delete(&Subscriber{})
	if res.Error != nil {
		log.Errorf("Failed to delete push subscriber: %v", res.Error)
		http.Error(w, res.Error.Error(), http.StatusInternalServerError)
		return
	}
	if res.RowsAffected == 0 {
		http.Error(w, "subscriber not found", http.StatusNotFound)
		return
	}
	log.WithField("peer", r.RemoteAddr).Infof("Push subscriber removed")
}

func (p *WebPush) handleSubscribers(w http.ResponseWriter, r *http.Request) {
	var subs []*Subscriber
	if err := p.db.Order("id").Find(&subs).Error; err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(subs); err != nil {
		log.Warnf("Failed to write push subscribers: %v", err)
	}
}

func (p *WebPush) handleTest(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Invalid request method", http.StatusMethodNotAllowed)
		return
	}
	p.l.Lock()
	n := p.last
	p.l.Unlock()
	if n == nil {
		now := time.Now()
		n = &Notification{
			Time:       now,
			TimeString: now.Format("3:04 PM"),
			Hx:         testFallback,
			Magnitude:  testFallback,
			Threshold:  testFallback,
		}
	}
	delivered, err := p.deliver(n)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	fmt.Fprintf(w, "delivered to %d subscribers\n", delivered)
}

// sendOne pushes payload to s and records the outcome. Subscribers the push
// service no longer knows are removed.
func (p *WebPush) sendOne(s *Subscriber, payload []byte, ttl int, urgency webpush.Urgency) bool {
	resp, err := p.send(payload, s.subscription(), &webpush.Options{
		Subscriber:      p.Contact,
		VAPIDPublicKey:  p.Key.Public,
		VAPIDPrivateKey: p.Key.Private,
		TTL:             ttl,
		Urgency:         urgency,
		Topic:           Topic,
	})
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	logger := log.WithField("subscriber", s.ID)
	if resp != nil && (resp.StatusCode == http.StatusNotFound || resp.StatusCode == http.StatusGone) {
		logger.Infof("Push service reports status %v, removing subscriber", resp.Status)
		if err := p.db.Unscoped().Delete(s).Error; err != nil {
			logger.Errorf("Failed to remove subscriber: %v", err)
		}
		return false
	}
	if err == nil && resp != nil && resp.StatusCode >= http.StatusBadRequest {
		err = fmt.Errorf("push service returned %v", resp.Status)
	}

	now := time.Now()
	if err != nil {
		logger.Warnf("Web push failed: %v", err)
		s.Failed++
		s.LastError = err.Error()
	} else {
		s.Delivered++
		s.LastDelivery = &now
		s.LastError = ""
	}
	if err := p.db.Save(s).Error; err != nil {
		logger.Errorf("Failed to update subscriber: %v", err)
	}
	return err == nil
}

// deliver pushes n to every subscriber whose MinMagnitude it reaches and
// returns the number of successful deliveries.
func (p *WebPush) deliver(n *Notification) (int, error) {
	payload, err := json.Marshal(NewPushMessage(n))
	if err != nil {
		return 0, err
	}
	var subs []*Subscriber
	if err := p.db.Where("min_magnitude <= ?", n.Magnitude).Find(&subs).Error; err != nil {
		return 0, err
	}

	ttl, urgency := deliveryOptions(n)
	log.WithFields(log.Fields{
		"subscribers": len(subs),
		"magnitude":   n.Magnitude,
		"urgency":     urgency,
	}).Infof("Sending jitter alert")

	var delivered int32
	var wg sync.WaitGroup
	for _, s := range subs {
		wg.Add(1)
		go func(s *Subscriber) {
			defer wg.Done()
			if p.sendOne(s, payload, ttl, urgency) {
				atomic.AddInt32(&delivered, 1)
			}
		}(s)
	}
	wg.Wait()
	return int(delivered), nil
}

func (p *WebPush) Notify(n *Notification) error {
	p.l.Lock()
	p.last = n
	p.l.Unlock()
	_, err := p.deliver(n)
	return err
}
