package catalog

import "ptxn/pkg/types"

// MockBankTables returns a small banking schema: ACCOUNTS and HISTORY are
// partitioned by account id, BRANCH is replicated.
func MockBankTables() []TableDef {
	return []TableDef{
		{
			Name: "ACCOUNTS",
			Columns: []types.Column{
				{Name: "ID", Type: types.T_bigint},
				{Name: "OWNER", Type: types.T_varchar},
				{Name: "BALANCE", Type: types.T_bigint},
				{Name: "BRANCH_ID", Type: types.T_int},
			},
			PrimaryKey:      []string{"ID"},
			PartitionColumn: "ID",
		},
		{
			Name: "HISTORY",
			Columns: []types.Column{
				{Name: "ACCT_ID", Type: types.T_bigint},
				{Name: "SEQ", Type: types.T_bigint},
				{Name: "AMOUNT", Type: types.T_bigint},
				{Name: "TS", Type: types.T_timestamp},
			},
			PrimaryKey:      []string{"ACCT_ID", "SEQ"},
			PartitionColumn: "ACCT_ID",
		},
		{
			Name: "BRANCH",
			Columns: []types.Column{
				{Name: "ID", Type: types.T_int},
				{Name: "BNAME", Type: types.T_varchar},
			},
			PrimaryKey: []string{"ID"},
		},
	}
}

// MockBankProcedures returns the procedures of the banking schema.
func MockBankProcedures() []ProcedureDef {
	bigint := types.Param(types.T_bigint)
	return []ProcedureDef{
		{
			Name:           "Deposit",
			Params:         []types.ParamType{bigint, bigint},
			PartitionParam: 0,
			Statements: []StatementDef{
				{Name: "credit", SQL: "UPDATE ACCOUNTS SET BALANCE = BALANCE + ? WHERE ID = ?"},
			},
		},
		{
			Name:           "Withdraw",
			Params:         []types.ParamType{bigint, bigint},
			PartitionParam: 0,
			Statements: []StatementDef{
				{Name: "balance", SQL: "SELECT BALANCE FROM ACCOUNTS WHERE ID = ?"},
				{Name: "debit", SQL: "UPDATE ACCOUNTS SET BALANCE = BALANCE - ? WHERE ID = ?"},
			},
		},
		{
			Name:           "GetBalance",
			Params:         []types.ParamType{bigint},
			PartitionParam: 0,
			Statements: []StatementDef{
				{Name: "balance", SQL: "SELECT BALANCE FROM ACCOUNTS WHERE ID = ?"},
			},
		},
		{
			Name:           "OpenAccount",
			Params:         []types.ParamType{bigint, types.Param(types.T_varchar), bigint, types.Param(types.T_int)},
			PartitionParam: 0,
			Statements: []StatementDef{
				{Name: "insert", SQL: "INSERT INTO ACCOUNTS (ID, OWNER, BALANCE, BRANCH_ID) VALUES (?, ?, ?, ?)"},
			},
		},
		{
			Name:           "RenameOwner",
			Params:         []types.ParamType{bigint, types.Param(types.T_varchar)},
			PartitionParam: 0,
			Statements: []StatementDef{
				{Name: "rename", SQL: "UPDATE ACCOUNTS SET OWNER = ? WHERE ID = ?"},
			},
		},
		{
			Name:           "CloseAccount",
			Params:         []types.ParamType{bigint},
			PartitionParam: 0,
			Statements: []StatementDef{
				{Name: "delete", SQL: "DELETE FROM ACCOUNTS WHERE ID = ?"},
			},
		},
		{
			Name:           "Audit",
			Params:         []types.ParamType{bigint, bigint, types.Param(types.T_timestamp)},
			PartitionParam: 0,
			Statements: []StatementDef{
				{Name: "balance", SQL: "SELECT BALANCE FROM ACCOUNTS WHERE ID = ?"},
				{Name: "total", SQL: "SELECT SUM(BALANCE) FROM ACCOUNTS"},
				{Name: "record", SQL: "INSERT INTO HISTORY (ACCT_ID, SEQ, AMOUNT, TS) VALUES (?, ?, ?, ?)"},
			},
		},
		{
			Name:           "TotalBalance",
			PartitionParam: NoPartitionParam,
			MultiPartition: true,
			Statements: []StatementDef{
				{Name: "total", SQL: "SELECT SUM(BALANCE) FROM ACCOUNTS"},
			},
		},
		{
			Name:           "AddBranch",
			Params:         []types.ParamType{types.Param(types.T_int), types.Param(types.T_varchar)},
			PartitionParam: NoPartitionParam,
			MultiPartition: true,
			Statements: []StatementDef{
				{Name: "insert", SQL: "INSERT INTO BRANCH (ID, BNAME) VALUES (?, ?)"},
			},
		},
		{
			Name:           "ListBranches",
			PartitionParam: NoPartitionParam,
			Statements: []StatementDef{
				{Name: "list", SQL: "SELECT ID, BNAME FROM BRANCH ORDER BY ID"},
			},
		},
	}
}

// MockBankCatalog builds the banking catalog and panics on error.
func MockBankCatalog(version uint64) *Catalog {
	b := NewBuilder(version)
	for _, def := range MockBankTables() {
		b.AddTable(def)
	}
	for _, def := range MockBankProcedures() {
		b.AddProcedure(def)
	}
	catalog, err := b.Build()
	if err != nil {
		panic(err)
	}
	return catalog
}
