package source

import (
	log "github.com/sirupsen/logrus"
	"gocv.io/x/gocv"
)

// MatPool recycles frame buffers between a capture source and whoever
// releases its images. All bookkeeping is owned by a single goroutine.
type MatPool struct {
	new   chan chan gocv.Mat
	free  chan gocv.Mat
	close chan bool
	stats chan chan int

	// limit caps live allocations; exceeding it means an Image is leaking.
	limit     int
	allocated int
	available []gocv.Mat
}

func NewMatPool(limit int) *MatPool {
	p := &MatPool{
		new:   make(chan chan gocv.Mat),
		free:  make(chan gocv.Mat),
		close: make(chan bool),
		stats: make(chan chan int),
		limit: limit,
	}
	go func() {
		closed := false
		for {
			select {
			case <-p.close:
				closed = true
				for _, m := range p.available {
					m.Close()
					p.allocated -= 1
				}
				p.available = nil
			case m := <-p.free:
				if closed {
					m.Close()
					p.allocated -= 1
				} else {
					p.available = append(p.available, m)
				}
			case r := <-p.new:
				var m gocv.Mat
				if len(p.available) > 0 {
					m, p.available = p.available[0], p.available[1:]
				} else {
					m = gocv.NewMat()
					p.allocated += 1
					if p.limit > 0 && p.allocated > p.limit {
						log.Fatalf("Too many MatPool allocations (%d). Perhaps an Image isn't being released?", p.allocated)
					}
				}
				r <- m
			case r := <-p.stats:
				r <- p.allocated
			}
		}
	}()
	return p
}

func (p *MatPool) NewMat() gocv.Mat {
	r := make(chan gocv.Mat)
	p.new <- r
	return <-r
}

func (p *MatPool) ReleaseMat(m gocv.Mat) {
	p.free <- m
}

// Allocated returns the number of Mats currently owned by the pool or its
// callers.
func (p *MatPool) Allocated() int {
	r := make(chan int)
	p.stats <- r
	return <-r
}

// Close frees idle Mats; Mats released afterwards are freed immediately.
func (p *MatPool) Close() {
	p.close <- true
}
