package procedure

import (
	"ptxn/pkg/catalog"
	"ptxn/pkg/types"
)

// MockBankRegistry registers an implementation of every procedure of the
// banking catalog.
func MockBankRegistry() *Registry {
	defs := make(map[string]catalog.ProcedureDef)
	for _, def := range catalog.MockBankProcedures() {
		defs[def.Name] = def
	}
	desc := func(name string, run RunFunc) *Descriptor {
		return &Descriptor{Def: defs[name], Run: run}
	}
	return NewRegistry().MustRegister(
		desc("Deposit", runDeposit),
		desc("Withdraw", runWithdraw),
		desc("GetBalance", runSingle("balance")),
		desc("OpenAccount", runAll("insert")),
		desc("RenameOwner", runAll("rename")),
		desc("CloseAccount", runAll("delete")),
		desc("Audit", runAudit),
		desc("TotalBalance", runAll("total")),
		desc("AddBranch", runAll("insert")),
		desc("ListBranches", runAll("list")),
	)
}

// MockBankCatalog builds the catalog of MockBankRegistry.
func MockBankCatalog(version uint64) (*Registry, *catalog.Catalog) {
	reg := MockBankRegistry()
	cat, err := reg.BuildCatalog(version, catalog.MockBankTables()...)
	if err != nil {
		panic(err)
	}
	return reg, cat
}

// runAll queues the only statement with all procedure arguments.
func runAll(stmt string) RunFunc {
	return func(ctx *Context, args []interface{}) (interface{}, error) {
		if err := ctx.QueueSQL(stmt, args...); err != nil {
			return nil, err
		}
		return ctx.ExecuteSQL(true)
	}
}

func runSingle(stmt string) RunFunc {
	return func(ctx *Context, args []interface{}) (interface{}, error) {
		if err := ctx.QueueSQL(stmt, args...); err != nil {
			return nil, err
		}
		results, err := ctx.ExecuteSQL(true)
		if err != nil {
			return nil, err
		}
		return results[0], nil
	}
}

func modified(t *types.Table) int64 {
	n, err := t.AsScalarLong()
	if err != nil {
		return 0
	}
	return n
}

func runDeposit(ctx *Context, args []interface{}) (interface{}, error) {
	id, amount := args[0], args[1]
	if err := ctx.QueueSQL("credit", amount, id); err != nil {
		return nil, err
	}
	results, err := ctx.ExecuteSQL(true)
	if err != nil {
		return nil, err
	}
	if modified(results[0]) == 0 {
		return nil, Abort("account %v does not exist", id)
	}
	return results, nil
}

const AppStatusInsufficientFunds int8 = 1

func runWithdraw(ctx *Context, args []interface{}) (interface{}, error) {
	id, amount := args[0], args[1].(int64)
	if err := ctx.QueueSQL("balance", id); err != nil {
		return nil, err
	}
	results, err := ctx.ExecuteSQL(false)
	if err != nil {
		return nil, err
	}
	if results[0].RowCount() == 0 {
		return nil, Abort("account %v does not exist", id)
	}
	balance := results[0].Rows[0][0].(int64)
	if balance < amount {
		ctx.SetAppStatus(AppStatusInsufficientFunds, "insufficient funds")
		return nil, Abort("balance %d is below %d", balance, amount)
	}
	if err = ctx.QueueSQL("debit", amount, id); err != nil {
		return nil, err
	}
	if _, err = ctx.ExecuteSQL(true); err != nil {
		return nil, err
	}
	return balance - amount, nil
}

// runAudit records the account balance in HISTORY and returns the balance
// and the total of all accounts.
func runAudit(ctx *Context, args []interface{}) (interface{}, error) {
	id, seq, ts := args[0], args[1], args[2]
	if err := ctx.QueueSQL("balance", id); err != nil {
		return nil, err
	}
	if err := ctx.QueueSQL("total"); err != nil {
		return nil, err
	}
	results, err := ctx.ExecuteSQL(false)
	if err != nil {
		return nil, err
	}
	if results[0].RowCount() == 0 {
		return nil, Abort("account %v does not exist", id)
	}
	if err = ctx.QueueSQL("record", id, seq, results[0].Rows[0][0], ts); err != nil {
		return nil, err
	}
	if _, err = ctx.ExecuteSQL(true); err != nil {
		return nil, err
	}
	return results, nil
}
