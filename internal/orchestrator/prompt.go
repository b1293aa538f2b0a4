package orchestrator

import (
	"fmt"
	"strings"

	"github.com/ShayCichocki/taskpilot/internal/tools"
	"github.com/ShayCichocki/taskpilot/pkg/models"
)

const toolUseFormat = `# Tool use

You act by invoking tools. Write each invocation on its own as

<tool_use name="TOOL_NAME">{"param": "value"}</tool_use>

The payload must be a single JSON object. Invocations run in the order you
write them, and their results arrive in the next user message. Wait for the
results before assuming an invocation succeeded.

Tools of capability servers are invoked as "server/tool" with the arguments
their input schema describes.

When the task is done, invoke ` + tools.CompletionTool + ` with a summary of
the result. Do not end a response without a tool invocation.`

const planModeNotice = `# Mode: plan

You are in plan mode. Explore with the read-only tools and describe the
changes you would make. Tools that modify files or run commands are refused.`

const actModeNotice = `# Mode: act

You are in act mode. Make the changes needed to accomplish the task.`

// noToolUsedNudge is sent when a response contained no tool invocation.
const noToolUsedNudge = `[ERROR] Your previous response did not invoke a tool.

Every response must invoke at least one tool using
<tool_use name="TOOL_NAME">{...}</tool_use>. If the task is finished,
invoke ` + tools.CompletionTool + `. Otherwise continue with the next step.`

// emptyResponseText stands in for an assistant turn with no content so
// that roles keep alternating.
const emptyResponseText = "(no response)"

// deniedResult is returned for a call the user declined.
const deniedResult = "The user denied this operation."

// skippedResult is returned for calls after a denied call in the same turn.
const skippedResult = "Skipped because an earlier tool call in this response was denied."

// ignoredResult is recorded for calls after attempt_completion.
const ignoredResult = "Ignored because the task was already completed in this response."

// interruptedResult is recorded for calls cut off by a stream error.
const interruptedResult = "Interrupted before the tool finished: the response stream failed."

// timedOutResult is recorded for calls still running when the wait for
// tool execution timed out. The tool may still finish in the background.
const timedOutResult = "Timed out waiting for the tool to finish. It may still complete in the background."

// systemPrompt renders the prompt for mode.
func (o *Orchestrator) systemPrompt(mode models.Mode) string {
	var b strings.Builder
	b.WriteString("You are taskpilot, a software engineering agent that works through tasks step by step using tools.\n\n")
	b.WriteString(toolUseFormat)
	b.WriteString("\n\n# Local tools\n\n")
	b.WriteString(o.tools.Describe(mode == models.ModePlan))

	if remote := o.dispatcher.DescribeRemote(); remote != "" {
		b.WriteString("# Capability server tools\n\n")
		b.WriteString(remote)
	}

	b.WriteString("\n")
	if mode == models.ModePlan {
		b.WriteString(planModeNotice)
	} else {
		b.WriteString(actModeNotice)
	}
	b.WriteString("\n")

	if o.opts.workDir != "" {
		fmt.Fprintf(&b, "\nThe working directory is %s. Relative paths resolve against it.\n", o.opts.workDir)
	}
	if s := strings.TrimSpace(o.opts.instructions); s != "" {
		b.WriteString("\n# User instructions\n\n")
		b.WriteString(s)
		b.WriteString("\n")
	}
	return b.String()
}

// taskContent wraps the user's request for the first message.
func taskContent(text string, images []models.ContentBlock) []models.ContentBlock {
	blocks := []models.ContentBlock{models.TextBlock("<task>\n" + text + "\n</task>")}
	return append(blocks, images...)
}

// feedbackContent wraps follow-up input from the user.
func feedbackContent(text string, images []models.ContentBlock) []models.ContentBlock {
	var blocks []models.ContentBlock
	if strings.TrimSpace(text) != "" {
		blocks = append(blocks, models.TextBlock("<feedback>\n"+text+"\n</feedback>"))
	}
	return append(blocks, images...)
}
