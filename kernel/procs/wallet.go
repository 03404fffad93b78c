// Package procs holds the builtin procedures shipped with the kernel.
package procs

import (
	"github.com/google/uuid"
	"github.com/mudu-db/mudu/kernel/ec"
	"github.com/mudu-db/mudu/kernel/record"
	"github.com/mudu-db/mudu/kernel/sandbox"
	"github.com/mudu-db/mudu/kernel/types"
	"github.com/pingcap/errors"
)

// WalletDDL creates the tables transfer_funds works on.
const WalletDDL = `
CREATE TABLE IF NOT EXISTS wallets (
	user_id INT PRIMARY KEY,
	balance INT
);
CREATE TABLE IF NOT EXISTS transactions (
	trans_id VARCHAR PRIMARY KEY,
	from_user INT,
	to_user INT,
	amount INT
);
`

const transferFundsDesc = `
module = "wallet"
proc = "transfer_funds"
params = [
	{ name = "from_user", type_id = "i32" },
	{ name = "to_user", type_id = "i32" },
	{ name = "amount", type_id = "i32" },
]
returns = [
	{ name = "trans_id", type_id = "varchar" },
]
`

type transfer struct {
	From   int32 `mudu:"from_user"`
	To     int32 `mudu:"to_user"`
	Amount int32 `mudu:"amount"`
}

type wallet struct {
	Balance int32 `mudu:"balance"`
}

func i32(v int32) []byte {
	b, _ := types.Typed(v).Binary(types.I32, nil)
	return b
}

// TransferFunds moves amount from one wallet to another and records the
// transfer. It returns the id of the transfer record.
func TransferFunds(desc *sandbox.Descriptor) sandbox.Builtin {
	return func(inv *sandbox.Invocation, args [][]byte) ([][]byte, error) {
		var t transfer
		if err := record.Scan(desc.ParamDesc(), args, &t); err != nil {
			return nil, err
		}
		if t.From == t.To {
			return nil, ec.New(ec.MuduErr, "Cannot transfer money to oneself")
		}
		if t.Amount <= 0 {
			return nil, ec.Newf(ec.MuduErr, "invalid amount %d", t.Amount)
		}

		from, err := balance(inv, t.From)
		if err != nil {
			return nil, err
		}
		if from.Balance < t.Amount {
			return nil, ec.New(ec.MuduErr, "insufficient funds")
		}
		if _, err = balance(inv, t.To); err != nil {
			return nil, err
		}

		if err = expectOne(inv.Command("UPDATE wallets SET balance = balance - ? WHERE user_id = ?", i32(t.Amount), i32(t.From))); err != nil {
			return nil, err
		}
		if err = expectOne(inv.Command("UPDATE wallets SET balance = balance + ? WHERE user_id = ?", i32(t.Amount), i32(t.To))); err != nil {
			return nil, err
		}
		id := uuid.New().String()
		if err = expectOne(inv.Command("INSERT INTO transactions (trans_id, from_user, to_user, amount) VALUES (?, ?, ?, ?)",
			[]byte(id), i32(t.From), i32(t.To), i32(t.Amount))); err != nil {
			return nil, err
		}
		return [][]byte{[]byte(id)}, nil
	}
}

func balance(inv *sandbox.Invocation, user int32) (*wallet, error) {
	rows, err := inv.Query("SELECT balance FROM wallets WHERE user_id = ?", i32(user))
	if err != nil {
		return nil, err
	}
	w := &wallet{}
	ok, err := rows.Scan(w)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ec.Newf(ec.MuduErr, "no wallet for user %d", user)
	}
	return w, nil
}

func expectOne(n uint64, err error) error {
	if err != nil {
		return err
	}
	if n != 1 {
		return ec.Newf(ec.MuduErr, "expected one row, %d affected", n)
	}
	return nil
}

// Register adds every builtin procedure to rt.
func Register(rt *sandbox.Runtime) error {
	d, err := sandbox.ParseDescriptor(transferFundsDesc)
	if err != nil {
		return errors.Trace(err)
	}
	rt.RegisterBuiltin(d, TransferFunds(d))
	return nil
}
