package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"croncat/internal/chain"
	"croncat/internal/core"
	"croncat/internal/msgs"
)

func newBlockCommand(cli *CLI) *cobra.Command {
	return &cobra.Command{
		Use:   "block",
		Short: "Show the current block",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			b, err := cli.client().Block(cmd.Context())
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), b)
		},
	}
}

func newAdvanceCommand(cli *CLI) *cobra.Command {
	var (
		count   uint64
		seconds float64
	)
	cmd := &cobra.Command{
		Use:   "advance",
		Short: "Produce empty blocks",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			b, err := cli.client().Advance(cmd.Context(), count, seconds)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), b)
		},
	}
	cmd.Flags().Uint64VarP(&count, "count", "n", 1, "number of blocks")
	cmd.Flags().Float64Var(&seconds, "seconds", 0, "seconds per block (0 uses the node block time)")
	return cmd
}

func newBalancesCommand(cli *CLI) *cobra.Command {
	return &cobra.Command{
		Use:   "balances <address>",
		Short: "Show bank balances of an account",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			coins, err := cli.client().Balances(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), chain.CoinsString(coins))
			return nil
		},
	}
}

func newContractsCommand(cli *CLI) *cobra.Command {
	return &cobra.Command{
		Use:   "contracts",
		Short: "List deployed modules and registry entries",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			raw, err := cli.client().Contracts(cmd.Context())
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), raw)
		},
	}
}

func newQueryCommand(cli *CLI) *cobra.Command {
	return &cobra.Command{
		Use:   "query <contract> <json>",
		Short: "Run a smart query",
		Long:  `Run a smart query against factory, manager, tasks, agents or a contract address.`,
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			msg, err := rawJSON(args[1])
			if err != nil {
				return err
			}
			out, err := cli.client().Query(cmd.Context(), args[0], msg)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), out)
		},
	}
}

func newExecuteCommand(cli *CLI) *cobra.Command {
	var sender, funds string
	cmd := &cobra.Command{
		Use:   "execute <contract> <json>",
		Short: "Send an execute message",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			msg, err := rawJSON(args[1])
			if err != nil {
				return err
			}
			coins, err := chain.ParseCoins(funds)
			if err != nil {
				return err
			}
			res, err := cli.client().Execute(cmd.Context(), args[0], sender, msg, coins)
			if err != nil {
				return err
			}
			return printTx(cmd.OutOrStdout(), res)
		},
	}
	cmd.Flags().StringVar(&sender, "sender", "", "signing address")
	cmd.Flags().StringVar(&funds, "funds", "", `attached coins, e.g. "100ucron,5uatom"`)
	_ = cmd.MarkFlagRequired("sender")
	return cmd
}

func newAgentCommand(cli *CLI) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "agent",
		Short: "Agent lifecycle",
	}
	cmd.AddCommand(newAgentRegisterCommand(cli))
	cmd.AddCommand(newAgentStatusCommand(cli))
	cmd.AddCommand(newAgentProxyCallCommand(cli))
	cmd.AddCommand(newAgentUnregisterCommand(cli))
	return cmd
}

func newAgentRegisterCommand(cli *CLI) *cobra.Command {
	var payable string
	cmd := &cobra.Command{
		Use:   "register <agent>",
		Short: "Register an agent",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			msg := msgs.AgentsExecuteMsg{RegisterAgent: &msgs.RegisterAgent{}}
			if payable != "" {
				msg.RegisterAgent.PayableAccountID = &payable
			}
			return executeTyped(cmd, cli, "agents", args[0], msg)
		},
	}
	cmd.Flags().StringVar(&payable, "payable", "", "account receiving rewards (defaults to the agent)")
	return cmd
}

func newAgentStatusCommand(cli *CLI) *cobra.Command {
	return &cobra.Command{
		Use:   "status <agent>",
		Short: "Show an agent and its task share",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c := cli.client()
			var agent msgs.AgentResponse
			if err := c.QueryJSON(cmd.Context(), "agents", msgs.AgentsQueryMsg{GetAgent: &msgs.AccountQuery{AccountID: args[0]}}, &agent); err != nil {
				return err
			}
			if agent.Agent == nil {
				fmt.Fprintf(cmd.OutOrStdout(), "agent %s is not registered\n", args[0])
				return nil
			}
			out := map[string]any{"agent": agent.Agent}
			if agent.Agent.Status == core.AgentActive {
				var tasks msgs.AgentTaskResponse
				if err := c.QueryJSON(cmd.Context(), "agents", msgs.AgentsQueryMsg{GetAgentTasks: &msgs.AccountQuery{AccountID: args[0]}}, &tasks); err != nil {
					return err
				}
				out["tasks"] = tasks.Stats
			}
			return printJSON(cmd.OutOrStdout(), out)
		},
	}
}

func newAgentProxyCallCommand(cli *CLI) *cobra.Command {
	var hash string
	cmd := &cobra.Command{
		Use:   "proxy-call <agent>",
		Short: "Execute the next due task, or an evented task by hash",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			msg := msgs.ManagerExecuteMsg{ProxyCall: &msgs.ProxyCall{}}
			if hash != "" {
				msg.ProxyCall.TaskHash = &hash
			}
			return executeTyped(cmd, cli, "manager", args[0], msg)
		},
	}
	cmd.Flags().StringVar(&hash, "task-hash", "", "evented task to execute")
	return cmd
}

func newAgentUnregisterCommand(cli *CLI) *cobra.Command {
	var fromBehind bool
	cmd := &cobra.Command{
		Use:   "unregister <agent>",
		Short: "Unregister an agent and pay out its rewards",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			msg := msgs.AgentsExecuteMsg{UnregisterAgent: &msgs.UnregisterAgent{}}
			if cmd.Flags().Changed("from-behind") {
				msg.UnregisterAgent.FromBehind = &fromBehind
			}
			return executeTyped(cmd, cli, "agents", args[0], msg)
		},
	}
	cmd.Flags().BoolVar(&fromBehind, "from-behind", false, "search the pending queue from the back")
	return cmd
}

func newTasksCommand(cli *CLI) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tasks",
		Short: "Inspect tasks",
	}
	cmd.AddCommand(newTasksListCommand(cli))
	cmd.AddCommand(newTasksGetCommand(cli))
	return cmd
}

func newTasksListCommand(cli *CLI) *cobra.Command {
	var (
		owner       string
		from, limit uint64
	)
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List tasks",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			var q msgs.TasksQueryMsg
			if owner != "" {
				q.TasksByOwner = &msgs.TasksByOwner{OwnerAddr: owner, Limit: &limit}
			} else {
				q.Tasks = &msgs.PageQuery{FromIndex: &from, Limit: &limit}
			}
			var tasks []core.TaskInfo
			if err := cli.client().QueryJSON(cmd.Context(), "tasks", q, &tasks); err != nil {
				return err
			}
			w := cmd.OutOrStdout()
			if len(tasks) == 0 {
				fmt.Fprintln(w, "no tasks")
				return nil
			}
			for _, t := range tasks {
				fmt.Fprintf(w, "%s\t%s\t%s\n", t.TaskHash, t.Owner, t.Interval)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&owner, "owner", "", "only tasks of this owner")
	cmd.Flags().Uint64Var(&from, "from", 0, "start index")
	cmd.Flags().Uint64Var(&limit, "limit", 20, "page size")
	return cmd
}

func newTasksGetCommand(cli *CLI) *cobra.Command {
	return &cobra.Command{
		Use:   "get <task-hash>",
		Short: "Show a task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var res core.TaskResponse
			if err := cli.client().QueryJSON(cmd.Context(), "tasks", msgs.TasksQueryMsg{Task: &msgs.TaskHashMsg{TaskHash: args[0]}}, &res); err != nil {
				return err
			}
			if res.Task == nil {
				return fmt.Errorf("task %s not found", args[0])
			}
			return printJSON(cmd.OutOrStdout(), res.Task)
		},
	}
}

func executeTyped(cmd *cobra.Command, cli *CLI, contract, sender string, msg any) error {
	raw, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	res, err := cli.client().Execute(cmd.Context(), contract, sender, raw, nil)
	if err != nil {
		return err
	}
	return printTx(cmd.OutOrStdout(), res)
}
