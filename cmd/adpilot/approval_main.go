package main

import (
	"context"
	"encoding/json"
	"os"

	"github.com/spf13/cobra"

	"github.com/adpilot/adpilot/internal/approval"
	"github.com/adpilot/adpilot/internal/clock"
	"github.com/adpilot/adpilot/internal/config"
	"github.com/adpilot/adpilot/internal/errs"
	"github.com/adpilot/adpilot/internal/persistence/postgres"
)

func newApprovalCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "approval",
		Short: "Manage change-approval requests",
	}

	submitCmd := &cobra.Command{
		Use:   "submit",
		Short: "Submit a mutation set for approval",
		RunE:  runApprovalSubmit,
	}
	submitCmd.Flags().String("file", "", "Mutations JSON file (required)")
	submitCmd.Flags().String("title", "", "Request title (required)")
	submitCmd.Flags().String("description", "", "Request description")
	submitCmd.Flags().String("requester", "", "Requesting user (required)")
	submitCmd.Flags().String("policy", "", "Approval policy YAML override")

	voteCmd := &cobra.Command{
		Use:   "vote [request-id]",
		Short: "Approve or reject a pending request",
		Args:  cobra.ExactArgs(1),
		RunE:  runApprovalVote,
	}
	voteCmd.Flags().String("approver", "", "Voting user (required)")
	voteCmd.Flags().Bool("reject", false, "Reject instead of approve")
	voteCmd.Flags().String("comment", "", "Decision comment")
	voteCmd.Flags().String("policy", "", "Approval policy YAML override")

	cancelCmd := &cobra.Command{
		Use:   "cancel [request-id]",
		Short: "Cancel a pending request (originator or admin)",
		Args:  cobra.ExactArgs(1),
		RunE:  runApprovalCancel,
	}
	cancelCmd.Flags().String("actor", "", "Cancelling user (required)")
	cancelCmd.Flags().String("policy", "", "Approval policy YAML override")

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List approval requests",
		RunE:  runApprovalList,
	}
	listCmd.Flags().String("status", "", "Filter by status (PENDING, APPROVED, ...)")
	listCmd.Flags().String("policy", "", "Approval policy YAML override")

	cmd.AddCommand(submitCmd, voteCmd, cancelCmd, listCmd)
	return cmd
}

func runApprovalSubmit(cmd *cobra.Command, args []string) error {
	file, _ := cmd.Flags().GetString("file")
	title, _ := cmd.Flags().GetString("title")
	description, _ := cmd.Flags().GetString("description")
	requester, _ := cmd.Flags().GetString("requester")

	if file == "" {
		return errs.New(errs.ValidationFailed, "--file is required")
	}
	data, err := os.ReadFile(file)
	if err != nil {
		return errs.Wrap(errs.ConfigInvalid, err, "reading mutations file %s", file)
	}
	var mutations []approval.Mutation
	if err := json.Unmarshal(data, &mutations); err != nil {
		return errs.Wrap(errs.ConfigInvalid, err, "parsing mutations file %s", file)
	}

	wf, err := openWorkflow(cmd)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
	defer cancel()

	req, err := wf.Submit(ctx, approval.SubmitInput{
		Title:       title,
		Description: description,
		Requester:   requester,
		Mutations:   mutations,
	})
	if err != nil {
		return err
	}
	emitResult(req)
	return nil
}

func runApprovalVote(cmd *cobra.Command, args []string) error {
	approver, _ := cmd.Flags().GetString("approver")
	reject, _ := cmd.Flags().GetBool("reject")
	comment, _ := cmd.Flags().GetString("comment")

	wf, err := openWorkflow(cmd)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
	defer cancel()

	req, err := wf.Vote(ctx, args[0], approver, !reject, comment)
	if err != nil {
		return err
	}
	emitResult(req)
	return nil
}

func runApprovalCancel(cmd *cobra.Command, args []string) error {
	actor, _ := cmd.Flags().GetString("actor")

	wf, err := openWorkflow(cmd)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
	defer cancel()

	req, err := wf.Cancel(ctx, args[0], actor)
	if err != nil {
		return err
	}
	emitResult(req)
	return nil
}

func runApprovalList(cmd *cobra.Command, args []string) error {
	status, _ := cmd.Flags().GetString("status")

	wf, err := openWorkflow(cmd)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
	defer cancel()

	list, err := wf.List(ctx, approval.RequestStatus(status))
	if err != nil {
		return err
	}
	emitResult(map[string]interface{}{"requests": list, "count": len(list)})
	return nil
}

func openWorkflow(cmd *cobra.Command) (*approval.Workflow, error) {
	policyPath, _ := cmd.Flags().GetString("policy")
	policy, err := config.LoadApprovalPolicy(policyPath)
	if err != nil {
		return nil, err
	}

	repo, err := openApprovalRepo()
	if err != nil {
		return nil, err
	}
	admins := splitEnvList(os.Getenv("ADPILOT_ADMINS"))
	return approval.NewWorkflow(repo, policy, clock.NewWallClock(), admins), nil
}

func openApprovalRepo() (approval.Repository, error) {
	dsn := os.Getenv("ADPILOT_DATABASE_URL")
	if dsn == "" {
		return approval.NewMemoryRepository(), nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
	defer cancel()

	db, err := postgres.Connect(ctx, dsn)
	if err != nil {
		return nil, err
	}
	return postgres.NewApprovalRepo(db, 0), nil
}
