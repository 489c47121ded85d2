package cli

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/conveyor-forge/conveyor/internal/tracker"
	"github.com/conveyor-forge/conveyor/internal/tui"
)

func init() {
	ticketCmd.AddCommand(ticketListCmd, ticketShowCmd)
	rootCmd.AddCommand(ticketCmd)
}

var ticketCmd = &cobra.Command{
	Use:   "ticket",
	Short: "Inspect tickets known to the tracker",
}

var ticketListCmd = &cobra.Command{
	Use:   "list",
	Short: "List open tickets in admission order",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		_, a, err := loadConfigAndApp(configPath)
		if err != nil {
			return err
		}
		open, err := a.store.ListOpen()
		if err != nil {
			return err
		}
		buildable := tracker.SelectBuildable(open)
		for _, t := range buildable {
			sym, clr := stateDisplay(t)
			fmt.Printf("  %s%s #%-4d  votes=%-3d  %s%s\n", clr, sym, t.Number, t.Votes, t.Title, ansiReset)
		}
		if len(buildable) == 0 {
			fmt.Println(dimText("(no buildable tickets)"))
		}
		return nil
	},
}

var ticketShowCmd = &cobra.Command{
	Use:   "show <number>",
	Short: "Render a ticket's body and current labels",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		number, err := strconv.Atoi(args[0])
		if err != nil {
			return fmt.Errorf("invalid ticket number %q", args[0])
		}
		_, a, err := loadConfigAndApp(configPath)
		if err != nil {
			return err
		}
		t, err := a.store.Get(number)
		if err != nil {
			return err
		}
		fmt.Printf("#%d %s\n", t.Number, t.Title)
		rendered, err := tui.RenderTicketBody(t.Body)
		if err != nil {
			fmt.Println(t.Body)
		} else {
			fmt.Print(rendered)
		}
		fmt.Print("labels: ")
		for l := range t.Labels {
			fmt.Printf("%s ", l)
		}
		fmt.Println()
		return nil
	},
}
