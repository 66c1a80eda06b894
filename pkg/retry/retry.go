package retry

import (
	"context"
	"math/rand"
	"time"
)

// Policy задает параметры повторных попыток для оптимистичных записей
type Policy struct {
	MaxAttempts int           // максимальное число попыток, включая первую
	BaseDelay   time.Duration // задержка перед второй попыткой
	Multiplier  float64       // множитель экспоненциального роста задержки
	Jitter      float64       // доля случайного разброса задержки, 0..1
}

// Do выполняет op до успеха либо до исчерпания попыток. Повторяются только
// ошибки, для которых retryable возвращает true; прочие возвращаются сразу.
// Разброс задержки разводит по времени конкурентов, проигравших один и тот же конфликт.
func (p Policy) Do(ctx context.Context, op func() error, retryable func(error) bool) error {
	attempts := p.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}

	var err error
	for attempt := 1; attempt <= attempts; attempt++ {
		err = op()
		if err == nil {
			return nil
		}
		if retryable != nil && !retryable(err) {
			return err
		}
		if attempt == attempts {
			break
		}

		select {
		case <-time.After(p.delay(attempt)):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return err
}

// delay вычисляет задержку после попытки attempt
func (p Policy) delay(attempt int) time.Duration {
	multiplier := p.Multiplier
	if multiplier <= 0 {
		multiplier = 1
	}

	d := float64(p.BaseDelay)
	for i := 1; i < attempt; i++ {
		d *= multiplier
	}

	if p.Jitter > 0 {
		d *= 1 + p.Jitter*(rand.Float64()*2-1)
	}
	if d < 0 {
		d = 0
	}
	return time.Duration(d)
}
