package commands

import (
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(loginCmd)
}

var loginCmd = &cobra.Command{
	Use:   "login",
	Short: "Logs into the portal and prints what it knows about the region.",
	Run: func(cmd *cobra.Command, args []string) {
		ctx := cmd.Context()
		e := setup(ctx)
		defer e.close(ctx)
		e.login(ctx)

		t := newTable()
		t.AppendRows([]table.Row{
			{"Portal", e.session.BaseUrl()},
			{"Region", e.session.RegionDomain()},
			{"Region id", e.session.RegionId()},
			{"State", e.session.State().String()},
			{"Timezone", e.session.Location().String()},
		})
		t.Render()
	},
}
