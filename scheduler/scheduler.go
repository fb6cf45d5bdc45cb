// Package scheduler decides which watering plan a polling device receives
// next and tracks device connectivity.
//
// Every mutation of a device, its plans or its health record runs while
// holding the device's lock and inside a single transaction. Notifications
// and events are emitted after commit.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ZamarianPatrick/waterplant-backend/lock"
	"github.com/ZamarianPatrick/waterplant-backend/model"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// DefaultStaleAfter is how long a device may stay silent before it is
// considered disconnected.
const DefaultStaleAfter = 15 * time.Second

type Notifier interface {
	Notify(toEmail, subject, bodyHTML string)
}

type Scheduler struct {
	db         *gorm.DB
	locks      lock.Locker
	notifier   Notifier
	log        *zap.Logger
	now        func() time.Time
	staleAfter time.Duration

	mutex       sync.RWMutex
	subscribers map[string]chan model.DeviceEvent
}

type Option func(*Scheduler)

func WithClock(now func() time.Time) Option {
	return func(s *Scheduler) {
		s.now = now
	}
}

func WithStaleAfter(d time.Duration) Option {
	return func(s *Scheduler) {
		if d > 0 {
			s.staleAfter = d
		}
	}
}

func New(db *gorm.DB, locks lock.Locker, notifier Notifier, log *zap.Logger, opts ...Option) *Scheduler {
	s := &Scheduler{
		db:          db,
		locks:       locks,
		notifier:    notifier,
		log:         log.Named("scheduler"),
		now:         func() time.Time { return time.Now().UTC() },
		staleAfter:  DefaultStaleAfter,
		subscribers: make(map[string]chan model.DeviceEvent),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

type message struct {
	to      string
	subject string
	body    string
}

// effects collects what must happen once the transaction committed.
type effects struct {
	messages []message
	events   []model.DeviceEvent
}

func (fx *effects) notify(device *model.Device, subject, body string) {
	if !device.SendEmail {
		return
	}
	fx.messages = append(fx.messages, message{to: device.Owner.Email, subject: subject, body: body})
}

func (fx *effects) event(eventType model.EventType, device *model.Device) *model.DeviceEvent {
	snapshot := *device
	snapshot.Status = snapshot.DeriveStatus()
	fx.events = append(fx.events, model.DeviceEvent{Type: eventType, OwnerID: device.OwnerID, Device: snapshot})
	return &fx.events[len(fx.events)-1]
}

type deviceFunc func(tx *gorm.DB, device *model.Device, fx *effects) error

// withDevice runs fn for the device identified by deviceID under the
// device lock inside one transaction.
func (s *Scheduler) withDevice(ctx context.Context, deviceID string, fn deviceFunc) error {
	release, err := s.locks.Acquire(ctx, "device:"+deviceID)
	if err != nil {
		if errors.Is(err, lock.ErrNotAcquired) {
			return fmt.Errorf("device %s: %w", deviceID, ErrConflict)
		}
		return err
	}
	defer release()

	fx := &effects{}
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var device model.Device
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Preload("Owner").
			Where("device_id = ?", deviceID).
			First(&device).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return fmt.Errorf("device %s: %w", deviceID, ErrNotFound)
		}
		if err != nil {
			return err
		}

		return fn(tx, &device, fx)
	})
	if err != nil {
		return err
	}

	s.flush(fx)
	return nil
}

// withOwnedDevice is withDevice restricted to devices of owner. Devices of
// other owners are reported as missing.
func (s *Scheduler) withOwnedDevice(ctx context.Context, owner *model.User, deviceID string, fn deviceFunc) error {
	return s.withDevice(ctx, deviceID, func(tx *gorm.DB, device *model.Device, fx *effects) error {
		if device.OwnerID != owner.ID {
			return fmt.Errorf("device %s: %w", deviceID, ErrNotFound)
		}
		return fn(tx, device, fx)
	})
}

func (s *Scheduler) flush(fx *effects) {
	for _, m := range fx.messages {
		s.notifier.Notify(m.to, m.subject, m.body)
	}
	for _, ev := range fx.events {
		s.publish(ev)
	}
}

// ownedDevice loads a device for read only owner requests.
func (s *Scheduler) ownedDevice(ctx context.Context, owner *model.User, deviceID string) (*model.Device, error) {
	var device model.Device
	err := s.db.WithContext(ctx).Where("device_id = ?", deviceID).First(&device).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("device %s: %w", deviceID, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	if device.OwnerID != owner.ID {
		return nil, fmt.Errorf("device %s: %w", deviceID, ErrNotFound)
	}
	return &device, nil
}

// EnsureOwner returns the user for an authenticated identity, creating it
// on first sight and keeping the email current.
func (s *Scheduler) EnsureOwner(ctx context.Context, username, email string) (*model.User, error) {
	if username == "" {
		return nil, invalid("username", "must not be empty")
	}

	var user model.User
	db := s.db.WithContext(ctx)
	if err := db.Where(model.User{Username: username}).Attrs(model.User{Email: email}).FirstOrCreate(&user).Error; err != nil {
		return nil, err
	}

	if email != "" && user.Email != email {
		if err := db.Model(&user).Update("email", email).Error; err != nil {
			return nil, err
		}
	}
	return &user, nil
}

// Subscribe streams device events until ctx is done. Slow subscribers lose
// events rather than blocking writers.
func (s *Scheduler) Subscribe(ctx context.Context) <-chan model.DeviceEvent {
	ch := make(chan model.DeviceEvent, 16)
	id := uuid.NewString()

	s.mutex.Lock()
	s.subscribers[id] = ch
	s.mutex.Unlock()

	go func() {
		<-ctx.Done()
		s.log.Debug("subscriber closed", zap.String("subscriber", id))

		s.mutex.Lock()
		delete(s.subscribers, id)
		close(ch)
		s.mutex.Unlock()
	}()

	return ch
}

func (s *Scheduler) publish(ev model.DeviceEvent) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	for id, out := range s.subscribers {
		select {
		case out <- ev:
		default:
			s.log.Warn("subscriber too slow, dropping event", zap.String("subscriber", id), zap.String("type", string(ev.Type)))
		}
	}
}
