package executor

import (
	"time"

	"ptxn/pkg/iface/engineif"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

type Options struct {
	QueueSize       int
	QueueBatch      int
	FragmentTimeout time.Duration
}

func (opts *Options) fillDefaults() {
	if opts.QueueSize <= 0 {
		opts.QueueSize = 10000
	}
	if opts.QueueBatch <= 0 {
		opts.QueueBatch = 64
	}
	if opts.FragmentTimeout <= 0 {
		opts.FragmentTimeout = 10 * time.Second
	}
}

// Executor owns one PartitionExecutor per engine.
type Executor struct {
	opts       Options
	partitions []*PartitionExecutor
}

// New expects engines[i] to serve partition i.
func New(engines []engineif.Engine, opts Options) (*Executor, error) {
	opts.fillDefaults()
	exec := &Executor{opts: opts}
	for i, engine := range engines {
		if engine.Partition() != int32(i) {
			return nil, errors.Errorf("ptxn: engine %d serves partition %d", i, engine.Partition())
		}
		exec.partitions = append(exec.partitions, newPartitionExecutor(exec, engine, opts.QueueSize, opts.QueueBatch))
	}
	return exec, nil
}

func (exec *Executor) Start() {
	for _, pe := range exec.partitions {
		pe.queue.Start()
	}
	logrus.Infof("executor started with %d partitions", len(exec.partitions))
}

func (exec *Executor) Stop() {
	for _, pe := range exec.partitions {
		pe.queue.Stop()
	}
	logrus.Infof("executor stopped")
}

func (exec *Executor) Partitions() int32 { return int32(len(exec.partitions)) }

func (exec *Executor) Partition(id int32) (*PartitionExecutor, error) {
	if id < 0 || int(id) >= len(exec.partitions) {
		return nil, errors.Wrapf(ErrNoPartition, "%d", id)
	}
	return exec.partitions[id], nil
}

// Initiate queues task on the base partition of its txn.
func (exec *Executor) Initiate(task *InitiateTask) error {
	pe, err := exec.Partition(task.Txn.GetBasePartition())
	if err != nil {
		return err
	}
	return pe.enqueue(task)
}

// Halted returns the ids of halted partitions.
func (exec *Executor) Halted() []int32 {
	var ids []int32
	for _, pe := range exec.partitions {
		if pe.IsHalted() {
			ids = append(ids, pe.id)
		}
	}
	return ids
}
