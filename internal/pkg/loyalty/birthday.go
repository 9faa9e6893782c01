package loyalty

import (
	"context"
	"time"

	"github.com/gofiber/fiber/v2/log"

	"github.com/ManuelReschke/BeanCounter/app/models"
)

const customerPageSize = 200

// BirthdayWindow returns the birthday window of c that contains now, if any.
// The window opens at local midnight of the birthday and lasts days days.
// Feb 29 birthdays fall on Mar 1 in non-leap years.
func BirthdayWindow(c *models.Customer, now time.Time, loc *time.Location, days int) (start, end time.Time, ok bool) {
	if !c.HasBirthday() || days < 1 {
		return time.Time{}, time.Time{}, false
	}
	local := now.In(loc)
	// A window opened late last year can still be running in January.
	for _, year := range []int{local.Year(), local.Year() - 1} {
		start = time.Date(year, time.Month(c.BirthMonth), c.BirthDay, 0, 0, 0, 0, loc)
		end = start.AddDate(0, 0, days)
		if !now.Before(start) && now.Before(end) {
			return start, end, true
		}
	}
	return time.Time{}, time.Time{}, false
}

// RunBirthdaySweep emits a BirthdayWindowEvent for every active customer whose
// birthday window is open and who was not notified for it yet. Each customer
// is notified at most once per window.
func (e *Engine) RunBirthdaySweep(ctx context.Context) (int, error) {
	now := e.clock.Now()
	notified := 0

	for offset := 0; ; offset += customerPageSize {
		customers, err := e.repo.ListActiveCustomers(ctx, offset, customerPageSize)
		if err != nil {
			return notified, err
		}
		for i := range customers {
			c := &customers[i]
			start, _, open := BirthdayWindow(c, now, c.Location(e.loc), e.policy.BirthdayWindowDays)
			if !open || c.BirthdayNotifiedYear == start.Year() {
				continue
			}
			event, err := e.markBirthdayNotified(ctx, c.ID, now)
			if err != nil {
				log.Errorf("[Loyalty] Birthday sweep failed for %s: %v", c.ID, err)
				continue
			}
			if event != nil {
				notified++
				e.emit(ctx, *event)
			}
		}
		if len(customers) < customerPageSize {
			break
		}
	}

	if notified > 0 {
		log.Infof("[Loyalty] Birthday sweep notified %d customers", notified)
	}
	return notified, nil
}

func (e *Engine) markBirthdayNotified(ctx context.Context, customerID string, now time.Time) (*BirthdayWindowEvent, error) {
	unlock := e.locks.Lock(customerID)
	defer unlock()

	var event *BirthdayWindowEvent
	err := e.transact(ctx, func(tx Repository) error {
		event = nil
		c, err := tx.GetCustomer(ctx, customerID, true)
		if err != nil {
			return err
		}
		if !c.IsActive() {
			return nil
		}
		start, end, open := BirthdayWindow(c, now, c.Location(e.loc), e.policy.BirthdayWindowDays)
		if !open || c.BirthdayNotifiedYear == start.Year() {
			return nil
		}
		c.BirthdayNotifiedYear = start.Year()
		if err := tx.SaveCustomer(ctx, c); err != nil {
			return err
		}
		event = &BirthdayWindowEvent{
			CustomerID:  c.ID,
			BirthMonth:  c.BirthMonth,
			BirthDay:    c.BirthDay,
			WindowStart: start,
			WindowEnd:   end,
			GeneratedAt: now,
		}
		return nil
	})
	return event, err
}
