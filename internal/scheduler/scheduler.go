package scheduler

import (
	"context"
	"log"
	"sync"
	"time"
)

// Именованная периодическая джоба
type job struct {
	name     string
	interval time.Duration
	fn       func(ctx context.Context) error
	// Владение запуском: пока держится этот мьютекс, другие тики джобы
	// не исполняются
	running sync.Mutex
}

// Планировщик фоновых задач на фиксированных интервалах.
// Гарантия: два запуска одной джобы никогда не идут одновременно,
// медленный запуск гасит следующий тик, а не ставит его в очередь.
type Scheduler struct {
	jobs []*job
}

func New() *Scheduler {
	return &Scheduler{}
}

// Регистрирует джобу. Вызывать до Start.
func (s *Scheduler) Register(name string, interval time.Duration, fn func(ctx context.Context) error) {
	s.jobs = append(s.jobs, &job{
		name:     name,
		interval: interval,
		fn:       fn,
	})
}

// Запускает все джобы и блокируется до отмены контекста.
// Каждая джоба крутится на своем тикере в отдельной горутине.
func (s *Scheduler) Start(ctx context.Context) error {
	var wg sync.WaitGroup

	for _, j := range s.jobs {
		wg.Add(1)

		go func(j *job) {
			defer wg.Done()

			ticker := time.NewTicker(j.interval)
			defer ticker.Stop()

			s.runJob(ctx, &wg, j)

			for {
				select {
				case <-ctx.Done():
					return
				case <-ticker.C:
					s.runJob(ctx, &wg, j)
				}
			}
		}(j)
	}

	wg.Wait()
	return ctx.Err()
}

// Один тик джобы. Если прошлый запуск еще не закончился, тик пропускаем.
// Упавший запуск логируем и ждем следующего естественного тика,
// никаких немедленных повторов. Горутина запуска числится в общей WaitGroup:
// Start не возвращается, пока недобежавший запуск не закончит работу с БД.
func (s *Scheduler) runJob(ctx context.Context, wg *sync.WaitGroup, j *job) {
	if !j.running.TryLock() {
		log.Printf("job %s is still running, skipping tick", j.name)
		return
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		defer j.running.Unlock()

		if err := j.fn(ctx); err != nil {
			if ctx.Err() != nil {
				return
			}
			log.Printf("[ERROR] job %s failed: %v", j.name, err)
		}
	}()
}
