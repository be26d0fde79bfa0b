package fs

import (
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/ValentinKolb/dBridge/cmd/util"
	"github.com/ValentinKolb/dBridge/lib/fsops"
	"github.com/spf13/cobra"
)

var (
	statCmd = &cobra.Command{
		Use:   "stat [path]",
		Short: "Shows name, kind, size, mode and modification time of a path",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			v, err := session.Channel.CallNamed(fsops.OpStat, args[0])
			if err != nil {
				return err
			}
			rec, ok := v.(map[string]any)
			if !ok {
				return fmt.Errorf("unexpected stat result %T", v)
			}
			fmt.Printf("name:     %v\n", rec["name"])
			fmt.Printf("kind:     %v\n", rec["kind"])
			fmt.Printf("size:     %v\n", rec["size"])
			fmt.Printf("mode:     %v\n", formatMode(rec["mode"]))
			fmt.Printf("modified: %v\n", formatMillis(rec["modTime"]))
			return nil
		},
	}
	catCmd = &cobra.Command{
		Use:   "cat [path]",
		Short: "Prints the content of a file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			offset, _ := cmd.Flags().GetInt64("offset")
			length, _ := cmd.Flags().GetInt64("length")
			v, err := session.Channel.CallNamed(fsops.OpReadFile, args[0], offset, length)
			if err != nil {
				return err
			}
			data, ok := v.([]byte)
			if !ok {
				return fmt.Errorf("unexpected readFile result %T", v)
			}
			_, err = os.Stdout.Write(data)
			return err
		},
	}
	writeCmd = &cobra.Command{
		Use:   "write [path] [content]",
		Short: "Writes content to a file (atomically unless --append is set)",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			appendMode, _ := cmd.Flags().GetBool("append")
			v, err := session.Channel.CallNamed(fsops.OpWriteFile, args[0], []byte(args[1]), appendMode)
			if err != nil {
				return err
			}
			fmt.Printf("wrote %v bytes\n", v)
			return nil
		},
	}
	mkdirCmd = &cobra.Command{
		Use:   "mkdir [path]",
		Short: "Creates a directory",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			parents, _ := cmd.Flags().GetBool("parents")
			if _, err := session.Channel.CallNamed(fsops.OpMkdir, args[0], parents); err != nil {
				return err
			}
			fmt.Println("created successfully")
			return nil
		},
	}
	lsCmd = &cobra.Command{
		Use:   "ls [path]",
		Short: "Lists the entries of a directory",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			p := "/"
			if len(args) == 1 {
				p = args[0]
			}
			v, err := session.Channel.CallNamed(fsops.OpReadDir, p)
			if err != nil {
				return err
			}
			entries, ok := v.([]any)
			if !ok {
				return fmt.Errorf("unexpected readDir result %T", v)
			}
			w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			for _, e := range entries {
				rec, _ := e.(map[string]any)
				fmt.Fprintf(w, "%v\t%v\t%v\n", rec["kind"], rec["size"], rec["name"])
			}
			return w.Flush()
		},
	}
	rmCmd = &cobra.Command{
		Use:   "rm [path]",
		Short: "Removes a file or directory",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			recursive, _ := cmd.Flags().GetBool("recursive")
			if _, err := session.Channel.CallNamed(fsops.OpRemove, args[0], recursive); err != nil {
				return err
			}
			fmt.Println("removed successfully")
			return nil
		},
	}
	callCmd = &cobra.Command{
		Use:   "call [op] [args...]",
		Short: "Calls an operation by name or hex id with JSON encoded arguments",
		Long: `Calls an operation by name (e.g. fs.stat) or by hex id (e.g. 0x1a2b3c4d).
Arguments that are valid JSON are decoded, all others are passed as strings.
The result is printed as JSON.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			op, label := util.ParseOp(args[0])
			callArgs := make([]any, 0, len(args)-1)
			for _, a := range args[1:] {
				callArgs = append(callArgs, util.ParseArg(a))
			}

			timeout, _ := cmd.Flags().GetInt("call-timeout")
			var v any
			var err error
			if timeout > 0 {
				v, err = session.Channel.CallTimeout(op, time.Duration(timeout)*time.Millisecond, callArgs...)
			} else {
				v, err = session.Channel.Call(op, callArgs...)
			}
			if err != nil {
				return fmt.Errorf("%s: %w", label, err)
			}
			out, err := util.FormatValue(v)
			if err != nil {
				return err
			}
			fmt.Println(out)
			return nil
		},
	}
	opsCmd = &cobra.Command{
		Use:   "ops",
		Short: "Lists the operations served by the dispatcher",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			for _, op := range session.Registry.Operations() {
				fmt.Fprintf(w, "%s\t%s\n", op.ID, op.Name)
			}
			return w.Flush()
		},
	}
)

func init() {
	catCmd.Flags().Int64("offset", 0, util.WrapString("Byte offset to start reading at"))
	catCmd.Flags().Int64("length", -1, util.WrapString("Maximum number of bytes to read (-1 reads to the end)"))
	writeCmd.Flags().Bool("append", false, util.WrapString("Append to the file instead of replacing it"))
	mkdirCmd.Flags().BoolP("parents", "p", false, util.WrapString("Create missing parent directories"))
	rmCmd.Flags().BoolP("recursive", "r", false, util.WrapString("Remove directories and their contents"))
	callCmd.Flags().Int("call-timeout", 0, util.WrapString("Timeout of this call in milliseconds (0 uses --timeout)"))
}

// --------------------------------------------------------------------------
// Helper
// --------------------------------------------------------------------------

func formatMode(v any) string {
	switch m := v.(type) {
	case uint64:
		return fmt.Sprintf("%#o", m)
	case int64:
		return fmt.Sprintf("%#o", m)
	case float64:
		return fmt.Sprintf("%#o", int64(m))
	default:
		return fmt.Sprint(v)
	}
}

func formatMillis(v any) string {
	var ms int64
	switch t := v.(type) {
	case int64:
		ms = t
	case uint64:
		ms = int64(t)
	case float64:
		ms = int64(t)
	default:
		return fmt.Sprint(v)
	}
	return time.UnixMilli(ms).Format(time.RFC3339)
}
