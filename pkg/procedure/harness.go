package procedure

import (
	"context"
	"fmt"
	"time"

	"ptxn/pkg/iface/engineif"
	"ptxn/pkg/iface/txnif"
	"ptxn/pkg/planner"
	"ptxn/pkg/types"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// Runner executes procedure code for the txns of one partition.
type Runner struct {
	env  *Env
	exec BatchExecutor
}

func NewRunner(env *Env, exec BatchExecutor) *Runner {
	return &Runner{env: env, exec: exec}
}

func (r *Runner) Env() *Env { return r.env }

// Call runs one attempt of txn with the client supplied params and turns the
// outcome into a response. The returned error is the cause of any status
// other than success; committing or undoing the attempt is left to the
// caller.
func (r *Runner) Call(ctx context.Context, txn txnif.AsyncTxn, params []interface{}) (*ClientResponse, error) {
	start := time.Now()
	name := txn.GetProcName()
	resp, cause := r.call(ctx, txn, params)
	resp.ClientHandle = txn.GetClientHandle()
	resp.TxnID = txn.GetID()
	invocationCounter.WithLabelValues(name, resp.Status.String()).Inc()
	invocationDuration.WithLabelValues(name).Observe(time.Since(start).Seconds())
	return resp, cause
}

func (r *Runner) call(ctx context.Context, txn txnif.AsyncTxn, params []interface{}) (*ClientResponse, error) {
	desc, err := r.env.Registry.Get(txn.GetProcName())
	if err != nil {
		return NewErrorResponse(0, 0, StatusGracefulFailure, err.Error()), err
	}
	proc, err := r.env.Catalog.Procedure(desc.Def.Name)
	if err != nil {
		return NewErrorResponse(0, 0, StatusGracefulFailure, err.Error()), err
	}
	args, err := CoerceParams(proc.Name, proc.Params, params)
	if err != nil {
		return NewErrorResponse(0, 0, StatusGracefulFailure, err.Error()), err
	}

	txn.Lock()
	err = txn.ToExecutingLocked()
	txn.Unlock()
	if err != nil {
		return NewErrorResponse(0, 0, StatusUnexpectedFailure, err.Error()), err
	}

	pctx := newContext(ctx, r.env, r.exec, txn, proc)
	result, err := r.run(desc, pctx, args)
	resp := r.respond(pctx, result, err)
	switch resp.Status {
	case StatusSuccess:
		return resp, nil
	case StatusMispredicted:
		return resp, pctx.mispredicted
	}
	if pctx.planningErr != nil {
		return resp, pctx.planningErr
	}
	if err == nil {
		err = errors.New(resp.StatusString)
	}
	return resp, err
}

// run calls procedure code and turns a panic into an error.
func (r *Runner) run(desc *Descriptor, pctx *Context, args []interface{}) (result interface{}, err error) {
	defer func() {
		if p := recover(); p != nil {
			if perr, ok := p.(error); ok {
				err = errors.Wrapf(perr, "procedure %s panicked", desc.Def.Name)
			} else {
				err = errors.Errorf("procedure %s panicked: %v", desc.Def.Name, p)
			}
		}
	}()
	return desc.Run(pctx, args)
}

func (r *Runner) respond(pctx *Context, result interface{}, err error) *ClientResponse {
	resp := NewErrorResponse(0, 0, StatusSuccess, "")
	resp.AppStatus = pctx.appStatus
	resp.AppStatusString = pctx.appStatusString

	// misprediction and planning failures win over whatever procedure code
	// made of them
	if pctx.mispredicted != nil {
		resp.Status = StatusMispredicted
		resp.StatusString = pctx.mispredicted.Error()
		return resp
	}
	if pctx.planningErr != nil {
		resp.Status = StatusUnexpectedFailure
		resp.StatusString = pctx.planningErr.Error()
		logrus.Errorf("txn %d: %v", pctx.TxnID(), pctx.planningErr)
		return resp
	}
	if err != nil {
		resp.Status, resp.StatusString = mapError(err)
		if resp.Status == StatusUnexpectedFailure {
			logrus.WithField("txn", pctx.TxnID()).Warnf("procedure %s failed: %v", pctx.proc.Name, err)
		}
		return resp
	}
	tables, err := wrapResult(result)
	if err != nil {
		resp.Status = StatusUnexpectedFailure
		resp.StatusString = fmt.Sprintf("%+v", err)
		return resp
	}
	resp.Results = tables
	return resp
}

func mapError(err error) (Status, string) {
	var abort *AbortError
	var constraint *engineif.ConstraintError
	var sqlErr *engineif.SQLError
	var mispredict *planner.MispredictionError
	switch {
	case errors.As(err, &abort):
		return StatusUserAbort, abort.Msg
	case errors.As(err, &mispredict):
		return StatusMispredicted, mispredict.Error()
	case errors.As(err, &constraint):
		return StatusGracefulFailure, constraint.Error()
	case errors.As(err, &sqlErr):
		return StatusGracefulFailure, sqlErr.Error()
	case IsParamError(err):
		return StatusGracefulFailure, err.Error()
	}
	return StatusUnexpectedFailure, fmt.Sprintf("%+v", err)
}

// wrapResult accepts nil, a table, a table slice or a long scalar.
func wrapResult(result interface{}) ([]*types.Table, error) {
	switch v := result.(type) {
	case nil:
		return []*types.Table{}, nil
	case *types.Table:
		if v == nil {
			return nil, errors.Wrap(ErrBadReturnType, "nil table")
		}
		return []*types.Table{v}, nil
	case []*types.Table:
		for i, t := range v {
			if t == nil {
				return nil, errors.Wrapf(ErrBadReturnType, "nil table at %d", i)
			}
		}
		if v == nil {
			return []*types.Table{}, nil
		}
		return v, nil
	case int64:
		return []*types.Table{types.NewScalarTable(v)}, nil
	}
	return nil, errors.Wrapf(ErrBadReturnType, "%T", result)
}
