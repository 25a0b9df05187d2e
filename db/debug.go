package db

import (
	"fmt"
	"io"
	"text/tabwriter"
)

func ListBlindsCLI(dbPath string, out io.Writer) error {
	conn, err := Open(dbPath)
	if err != nil {
		return err
	}
	defer conn.Close()

	blinds, err := GetBlinds(conn)
	if err != nil {
		return err
	}
	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tPOSITION\tRUNTIME_UP\tRUNTIME_DOWN\tPASS_UP\tPASS_DOWN")
	for _, b := range blinds {
		fmt.Fprintf(w, "%d\t%d\t%d\t%d\t%d\t%d\n", b.ID, b.Position, b.RuntimeUp, b.RuntimeDown, b.PassUp, b.PassDown)
	}
	return w.Flush()
}

func SetRuntimeCLI(dbPath string, id, runtimeUp, runtimeDown int) error {
	if runtimeUp <= 0 || runtimeDown <= 0 {
		return fmt.Errorf("runtimes must be positive, got up=%d down=%d", runtimeUp, runtimeDown)
	}
	conn, err := Open(dbPath)
	if err != nil {
		return err
	}
	defer conn.Close()
	return UpdateCalibration(conn, id, runtimeUp, runtimeDown)
}
