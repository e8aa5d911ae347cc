package multidb_test

import (
	"context"
	"fmt"

	"github.com/ice-blockchain/go-multidb"
	"github.com/ice-blockchain/go-multidb/test_helpers"
)

func ExampleDispatcher_Execute() {
	primary := test_helpers.NewFakeHandle("primary")
	replica := test_helpers.NewFakeHandle("replica")

	d, err := multidb.NewDispatcher(primary, test_helpers.Handles(replica), multidb.Opts{
		Logger: multidb.SimpleLogger{},
	})
	if err != nil {
		fmt.Println(err)
		return
	}

	// One scope per request.
	ctx := d.WithScope(context.Background())

	for _, op := range []multidb.Operation{
		{Name: multidb.OpSelectAll, Statement: "SELECT * FROM products"},
		{Name: multidb.OpUpdate, Statement: "UPDATE products SET price = 10 WHERE id = 1"},
		{Name: multidb.OpSelectAll, Statement: "SELECT * FROM products"},
		{Name: multidb.OpSelectAll, Statement: "SELECT * FROM images"},
	} {
		target, err := d.Execute(ctx, op)
		if err != nil {
			fmt.Println(err)
			return
		}
		fmt.Println(op.Statement, "->", target)
	}
	// Output:
	// SELECT * FROM products -> replica
	// UPDATE products SET price = 10 WHERE id = 1 -> primary
	// SELECT * FROM products -> primary
	// SELECT * FROM images -> replica
}

func ExampleDispatcher_Transaction() {
	primary := test_helpers.NewFakeHandle("primary")
	replica := test_helpers.NewFakeHandle("replica")

	d, err := multidb.NewDispatcher(primary, test_helpers.Handles(replica), multidb.Opts{})
	if err != nil {
		fmt.Println(err)
		return
	}
	ctx := d.WithScope(context.Background())

	err = d.Transaction(ctx, func(ctx context.Context, tx any) error {
		target, err := d.Execute(ctx, multidb.Operation{
			Name:      multidb.OpSelectValue,
			Statement: "SELECT balance FROM accounts WHERE id = 1",
			Tx:        tx,
		})
		fmt.Println("inside:", target)
		return err
	})
	if err != nil {
		fmt.Println(err)
		return
	}

	target, _ := d.Execute(ctx, multidb.Operation{
		Name:      multidb.OpSelectValue,
		Statement: "SELECT balance FROM accounts WHERE id = 1",
	})
	fmt.Println("after:", target)
	// Output:
	// inside: primary
	// after: replica
}
