package site

import (
	"context"
	"sync"
	"sync/atomic"

	"ptxn/pkg/catalog"
	"ptxn/pkg/config"
	"ptxn/pkg/conflict"
	"ptxn/pkg/executor"
	"ptxn/pkg/iface/engineif"
	"ptxn/pkg/planner"
	"ptxn/pkg/procedure"
	"ptxn/pkg/txn/txnbase"

	"github.com/panjf2000/ants/v2"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// Invocation is a client request to run a procedure.
type Invocation struct {
	ClientHandle uint64
	ProcName     string
	Params       []interface{}
}

// catalogAware engines follow catalog updates.
type catalogAware interface {
	SetCatalog(*catalog.Catalog)
}

// Site accepts invocations and runs them on the partitions of one node.
type Site struct {
	conf    *config.Config
	engines []engineif.Engine
	exec    *executor.Executor
	txnMgr  *txnbase.TxnManager
	pool    *ants.Pool
	// mpSem admits one multi-partition txn at a time
	mpSem chan struct{}

	mu        sync.RWMutex
	env       *procedure.Env
	conflicts *conflict.ConflictSet
	disabled  map[string]error

	wg     sync.WaitGroup
	closed int32
	rr     uint32
}

func New(conf *config.Config, reg *procedure.Registry, cat *catalog.Catalog, engines []engineif.Engine) (*Site, error) {
	if err := conf.Validate(); err != nil {
		return nil, err
	}
	if len(engines) != conf.Partitions {
		return nil, errors.Wrapf(ErrPartitionsMismatch, "%d engines, %d partitions", len(engines), conf.Partitions)
	}
	logrus.SetLevel(conf.Level())

	exec, err := executor.New(engines, executor.Options{
		QueueSize:       conf.QueueSize,
		QueueBatch:      conf.QueueBatch,
		FragmentTimeout: conf.FragmentTimeout.Duration,
	})
	if err != nil {
		return nil, err
	}
	txnMgr, err := txnbase.NewTxnManager(conf.NodeID)
	if err != nil {
		return nil, err
	}
	pool, err := ants.NewPool(conf.WorkerPoolSize)
	if err != nil {
		return nil, errors.Wrap(err, "site worker pool")
	}
	s := &Site{
		conf:     conf,
		engines:  engines,
		exec:     exec,
		txnMgr:   txnMgr,
		pool:     pool,
		mpSem:    make(chan struct{}, 1),
		disabled: make(map[string]error),
	}
	estimator := planner.NewPartitionEstimator(planner.NewDefaultHasher(int32(conf.Partitions)))
	env := &procedure.Env{
		Registry:     reg,
		Cache:        planner.NewCache(),
		Estimator:    estimator,
		MaxBatchSize: conf.MaxBatchSize,
	}
	if err = s.bind(env, cat); err != nil {
		pool.Release()
		return nil, err
	}
	return s, nil
}

func (s *Site) Start() {
	s.txnMgr.Start()
	s.exec.Start()
	logrus.Infof("site started: node %d, %d partitions", s.conf.NodeID, s.conf.Partitions)
}

// Stop waits for pending invocations.
func (s *Site) Stop() {
	if !atomic.CompareAndSwapInt32(&s.closed, 0, 1) {
		return
	}
	s.wg.Wait()
	s.pool.Release()
	s.exec.Stop()
	s.txnMgr.Stop()
	logrus.Infof("site stopped")
}

func (s *Site) Executor() *executor.Executor { return s.exec }

func (s *Site) ActiveTxns() int { return s.txnMgr.ActiveCount() }

func (s *Site) ConflictSet() *conflict.ConflictSet {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.conflicts
}

func (s *Site) Catalog() *catalog.Catalog {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.env.Catalog
}

// UpdateCatalog switches new invocations to cat. Cached plans are dropped
// and disabled procedures are enabled again.
func (s *Site) UpdateCatalog(cat *catalog.Catalog) error {
	s.mu.RLock()
	env := *s.env
	s.mu.RUnlock()
	env.Cache.Reset()
	return s.bind(&env, cat)
}

func (s *Site) bind(env *procedure.Env, cat *catalog.Catalog) error {
	for _, name := range env.Registry.Names() {
		if _, err := cat.Procedure(name); err != nil {
			return errors.Wrapf(err, "catalog v%d", cat.Version())
		}
	}
	cs, err := conflict.NewCalculator(cat).Process()
	if err != nil {
		return err
	}
	env.Catalog = cat
	for _, engine := range s.engines {
		if aware, ok := engine.(catalogAware); ok {
			aware.SetCatalog(cat)
		}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.env = env
	s.conflicts = cs
	s.disabled = make(map[string]error)
	logrus.Infof("site bound to catalog v%d", cat.Version())
	return nil
}

func (s *Site) disable(proc string, cause error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.disabled[proc] = cause
	logrus.Errorf("procedure %s disabled: %v", proc, cause)
}

func (s *Site) IsDisabled(proc string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.disabled[catalog.CanonicalName(proc)]
	return ok
}

func (s *Site) current() *procedure.Env {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.env
}

func (s *Site) disabledCause(proc string) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.disabled[proc]
}

// Invoke runs inv asynchronously. The returned future completes within the
// configured response timeout.
func (s *Site) Invoke(ctx context.Context, inv *Invocation) *Future {
	ctx, cancel := context.WithTimeout(ctx, s.conf.ResponseTimeout.Duration)
	f := newFuture(cancel)
	if atomic.LoadInt32(&s.closed) == 1 {
		f.complete(procedure.NewErrorResponse(inv.ClientHandle, 0, procedure.StatusConnectionLost, ErrSiteClosed.Error()), ErrSiteClosed)
		return f
	}
	s.wg.Add(1)
	inflightGauge.Inc()
	err := s.pool.Submit(func() {
		defer s.wg.Done()
		defer inflightGauge.Dec()
		f.complete(s.run(ctx, inv))
	})
	if err != nil {
		s.wg.Done()
		inflightGauge.Dec()
		err = errors.Wrap(err, "submit invocation")
		f.complete(procedure.NewErrorResponse(inv.ClientHandle, 0, procedure.StatusUnexpectedFailure, err.Error()), err)
	}
	return f
}

// predict picks the base partition of a first attempt.
func (s *Site) predict(env *procedure.Env, proc *catalog.Procedure, params []interface{}) (int32, bool) {
	base, ok := env.Estimator.BasePartition(proc, params)
	if !ok {
		base = int32(atomic.AddUint32(&s.rr, 1) % uint32(s.conf.Partitions))
	}
	return base, proc.SinglePartition
}

func (s *Site) run(ctx context.Context, inv *Invocation) (*procedure.ClientResponse, error) {
	env := s.current()
	proc, err := env.Catalog.Procedure(inv.ProcName)
	if err != nil {
		err = errors.Wrap(procedure.ErrUnknownProcedure, inv.ProcName)
		return procedure.NewErrorResponse(inv.ClientHandle, 0, procedure.StatusGracefulFailure, err.Error()), err
	}
	if cause := s.disabledCause(proc.Name); cause != nil {
		err = errors.Wrapf(ErrProcedureDisabled, "%s: %v", proc.Name, cause)
		return procedure.NewErrorResponse(inv.ClientHandle, 0, procedure.StatusGracefulFailure, err.Error()), err
	}
	base, predictSingle := s.predict(env, proc, inv.Params)
	txn := s.txnMgr.StartTxn(inv.ClientHandle, proc.Name, base, predictSingle)
	for {
		res, err := s.attempt(ctx, env, txn, inv.Params)
		if err != nil {
			txn.Lock()
			_ = txn.ToAbortedLocked()
			txn.Unlock()
			status := procedure.StatusUnexpectedFailure
			if ctx.Err() != nil {
				status = procedure.StatusConnectionLost
			}
			resp := procedure.NewErrorResponse(inv.ClientHandle, txn.GetID(), status, err.Error())
			s.txnMgr.Release(txn)
			return resp, err
		}
		resp := res.Response
		switch {
		case resp.Status == procedure.StatusMispredicted:
			if txn.GetRestarts() >= s.conf.MaxRestarts {
				escalationCounter.Inc()
				err = errors.Wrapf(ErrTooManyRestarts, "%s after %d restarts: %v", txn.String(), txn.GetRestarts(), txn.GetError())
				logrus.Error(err)
				resp = procedure.NewErrorResponse(inv.ClientHandle, txn.GetID(), procedure.StatusUnexpectedFailure, err.Error())
				s.txnMgr.Release(txn)
				return resp, err
			}
			restartCounter.WithLabelValues(proc.Name).Inc()
			logrus.Debugf("%s restarts as multi-partition: %v", txn.String(), txn.GetError())
			txn = s.txnMgr.Restart(txn)
			continue
		case planner.IsPlanningError(res.Err):
			s.disable(proc.Name, res.Err)
		case resp.Status != procedure.StatusSuccess && ctx.Err() != nil:
			resp.Status = procedure.StatusConnectionLost
			resp.StatusString = ctx.Err().Error()
		}
		s.txnMgr.Release(txn)
		return resp, res.Err
	}
}

// attempt runs one dispatch of txn. It only fails when the txn could not
// run at all.
func (s *Site) attempt(ctx context.Context, env *procedure.Env, txn *txnbase.TxnState, params []interface{}) (*executor.InitiateResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, errors.Wrapf(err, "%s not dispatched", txn.String())
	}
	if !txn.IsPredictedSinglePartition() {
		select {
		case s.mpSem <- struct{}{}:
			defer func() { <-s.mpSem }()
		case <-ctx.Done():
			return nil, errors.Wrapf(ctx.Err(), "%s waiting for multi-partition admission", txn.String())
		}
	}
	task := executor.NewInitiateTask(ctx, txn, params, env)
	if err := s.exec.Initiate(task); err != nil {
		return nil, err
	}
	// the executor answers even when ctx is done
	return <-task.Done, nil
}
