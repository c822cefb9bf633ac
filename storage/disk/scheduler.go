package disk

import (
	"fmt"
	"sync"
)

// Scheduler serializes transfers per block: requests for the same
// (device, blockno) are handled in arrival order by one worker, while
// requests for different blocks proceed independently.
type Scheduler struct {
	reqCh   chan Request
	manager *Manager

	blockQueue   map[blockKey]chan Request
	blockQueueMu sync.Mutex
}

func NewScheduler(manager *Manager) *Scheduler {
	ds := &Scheduler{
		reqCh:      make(chan Request, 100),
		blockQueue: make(map[blockKey]chan Request),
		manager:    manager,
	}

	go ds.handleRequests()
	return ds
}

func NewRequest(dev, blockno uint32, data []byte, isWrite bool) Request {
	return Request{
		Dev:     dev,
		Blockno: blockno,
		Data:    data,
		Write:   isWrite,
		RespCh:  make(chan Response),
	}
}

func (ds *Scheduler) Schedule(req Request) <-chan Response {
	ds.reqCh <- req
	return req.RespCh
}

// Read transfers one block into p, blocking until the transfer is done.
func (ds *Scheduler) Read(dev, blockno uint32, p []byte) error {
	resp := <-ds.Schedule(NewRequest(dev, blockno, nil, false))
	if !resp.Success {
		return fmt.Errorf("disk read failed: dev %d block %d", dev, blockno)
	}
	copy(p, resp.Data)
	return nil
}

// Write transfers one block from p, blocking until the transfer is done.
func (ds *Scheduler) Write(dev, blockno uint32, p []byte) error {
	resp := <-ds.Schedule(NewRequest(dev, blockno, p, true))
	if !resp.Success {
		return fmt.Errorf("disk write failed: dev %d block %d", dev, blockno)
	}
	return nil
}

func (ds *Scheduler) handleRequests() {
	for req := range ds.reqCh {
		key := blockKey{req.Dev, req.Blockno}

		ds.blockQueueMu.Lock()
		queue, ok := ds.blockQueue[key]
		if !ok {
			queue = make(chan Request, 100)
			ds.blockQueue[key] = queue
		}
		// enqueue under the lock so the worker's exit check can't miss
		// a request that is still in flight
		queue <- req
		ds.blockQueueMu.Unlock()

		// !ok means we created a new block queue, therefore we should
		// start a new worker to handle that block's requests
		if !ok {
			go ds.blockWorker(key, queue)
		}
	}
}

func (ds *Scheduler) blockWorker(key blockKey, reqQueue chan Request) {
	for {
		select {
		case req := <-reqQueue:
			if req.Write {
				if err := ds.manager.writeBlock(req.Dev, req.Blockno, req.Data); err != nil {
					req.RespCh <- Response{Success: false}
				} else {
					req.RespCh <- Response{Success: true}
				}
			} else {
				if data, err := ds.manager.readBlock(req.Dev, req.Blockno); err != nil {
					req.RespCh <- Response{Success: false}
				} else {
					req.RespCh <- Response{Success: true, Data: data}
				}
			}

		default:
			// done handling requests for this block, can remove it from queue
			ds.blockQueueMu.Lock()
			if len(reqQueue) > 0 {
				ds.blockQueueMu.Unlock()
				continue
			}
			delete(ds.blockQueue, key)
			ds.blockQueueMu.Unlock()
			return
		}
	}
}

type Request struct {
	Dev     uint32
	Blockno uint32
	Data    []byte
	Write   bool
	RespCh  chan Response
}

type Response struct {
	Success bool
	Data    []byte
}
