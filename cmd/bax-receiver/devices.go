package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"

	"github.com/olekukonko/tablewriter"

	"bax-receiver/internal/bax"
	"bax-receiver/internal/devicestore"
	"bax-receiver/internal/infofile"
)

var subcommands = map[string]func(args []string) error{
	"devices":      cmdDevices,
	"compact":      cmdCompact,
	"check-script": cmdCheckScript,
}

// cmdDevices lists the info file: bax-receiver devices <info-file>.
func cmdDevices(args []string) error {
	if len(args) != 1 {
		return errors.New("usage: bax-receiver devices <info-file>")
	}
	infos, err := infofile.LoadAll(args[0])
	if err != nil {
		return err
	}
	writeDeviceTable(os.Stdout, infos)
	return nil
}

// writeDeviceTable prints one row per address, the last record winning as
// it does when the file is loaded. Keys are reduced to whether one is set.
func writeDeviceTable(w io.Writer, infos []devicestore.Info) {
	records := make(map[uint32]int, len(infos))
	for _, info := range infos {
		records[info.Address]++
	}

	table := tablewriter.NewWriter(w)
	table.SetHeader([]string{"Address", "Name", "Key", "Records"})
	table.SetBorder(false)
	for _, info := range compactInfos(infos) {
		key := "no"
		if info.Key != ([devicestore.KeySize]byte{}) {
			key = "yes"
		}
		table.Append([]string{bax.AddressString(info.Address), info.Name, key, strconv.Itoa(records[info.Address])})
	}
	table.Render()
}

// cmdCompact rewrites the info file with what a device store of the given
// capacity would hold after loading it, dropping superseded and evicted
// records: bax-receiver compact <info-file> [capacity].
func cmdCompact(args []string) error {
	if len(args) < 1 || len(args) > 2 {
		return errors.New("usage: bax-receiver compact <info-file> [capacity]")
	}
	path := args[0]
	capacity := devicestore.DefaultCapacity
	if len(args) == 2 {
		n, err := strconv.Atoi(args[1])
		if err != nil || n < 0 {
			return fmt.Errorf("invalid capacity %q", args[1])
		}
		capacity = n
	}

	st := devicestore.New(capacity, 0)
	n, err := infofile.LoadInto(path, st)
	if err != nil {
		return err
	}
	kept := st.Infos()
	if err := infofile.RewriteAll(path, kept); err != nil {
		return err
	}
	fmt.Printf("%s: %d records, %d kept\n", path, n, len(kept))
	return nil
}

func compactInfos(infos []devicestore.Info) []devicestore.Info {
	latest := make(map[uint32]int, len(infos))
	var order []uint32
	for i, info := range infos {
		if _, ok := latest[info.Address]; !ok {
			order = append(order, info.Address)
		}
		latest[info.Address] = i
	}
	out := make([]devicestore.Info, 0, len(order))
	for _, addr := range order {
		out = append(out, infos[latest[addr]])
	}
	return out
}
