package utils

// Pool 固定大小的compaction线程池
// 任务按提交顺序被取走，每个partition同一时刻最多有一个在途任务，
// 所以单个partition看到的完成顺序就是提交顺序
type Pool struct {
	tasks  chan func()
	closer *Closer
}

// NewPool 启动workers个worker，backlog是排队上限
func NewPool(workers, backlog int) *Pool {
	if workers < 1 {
		workers = 1
	}
	if backlog < workers {
		backlog = workers
	}
	p := &Pool{
		tasks:  make(chan func(), backlog),
		closer: NewCloser(),
	}
	p.closer.Add(workers)
	for i := 0; i < workers; i++ {
		go p.run()
	}
	return p
}

func (p *Pool) run() {
	defer p.closer.Done()
	for {
		select {
		case task := <-p.tasks:
			task()
		case <-p.closer.CloseSignal:
			// 收尾前把已经排队的任务清空
			for {
				select {
				case task := <-p.tasks:
					task()
				default:
					return
				}
			}
		}
	}
}

// Submit 提交一个任务，排队满时阻塞
func (p *Pool) Submit(task func()) {
	p.tasks <- task
}

// Close 等待所有worker退出，已排队的任务会被执行完
func (p *Pool) Close() {
	p.closer.Close()
}
