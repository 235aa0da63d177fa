package oracle

import (
	"fmt"
	"strings"

	"github.com/fentz26/uta/internal/models"
)

const preamble = `You are the decision module of a phone assistant that operates an Android device on behalf of a senior user.
Answer with a single JSON object and nothing else.`

var systemPrompts = map[Kind]string{
	KindRelation: `Decide how the current screen relates to the task.
Relation must be one of: "Completed", "Almost Complete", "Directly Related", "Indirectly Related", "Unrelated".
- Completed: the task is already done on this screen.
- Almost Complete: one interaction with a leaf element finishes the task.
- Directly Related: a leaf element on this screen moves the task forward.
- Indirectly Related: the screen is on the way, a leaf element leads toward the goal.
- Unrelated: nothing here helps; give a back/close element id if one is visible, otherwise "None".
Only leaf elements may be chosen. Never choose an excluded element. Do not repeat actions from the history.
Reply as {"Relation": "<kind>", "Reason": "<why>", "Element Id": "<id or None>"}.`,

	KindAction: `Pick exactly one interaction that moves the task forward on the current screen.
Action must be one of: %s.
Only leaf elements may be chosen. Never choose an excluded element. Do not repeat actions from the history.
If no element is suitable reply with "Element": "None".
Reply as {"Action": "<kind>", "Element": <id>, "Input Text": "<text, only for Input>", "Reason": "<why>"}.`,

	KindBack: `The current screen does not help with the task. Decide whether a back, close, cancel or dismiss control is visible.
Only the clickable elements are listed.
Reply as {"Can": "Yes" or "No", "Element": <id or "None">, "Reason": "<why>", "Description": "<what the control is>"}.`,

	KindApp: `Choose one installed app that is most likely to accomplish the task.
Pick only from the candidate packages and never one of the excluded packages.
If none fits reply with "Package": "None".
Reply as {"Package": "<package name or None>", "Reason": "<why>"}.`,

	KindClassify: `Classify the task.
Type must be one of: "General Inquiry" (a question answered without touching the phone), "System Function" (settings or built-in phone features), "App Related" (needs a specific app).
Reply as {"Type": "<type>", "Reason": "<why>"}.`,

	KindClarify: `Decide whether the task is clear enough to perform on the phone. The dialogue so far is included.
If something essential is missing, ask one short, friendly question.
Reply as {"Clear": "Yes" or "No", "Question": "<question when not clear>"}.`,

	KindDecompose: `Split the task into the smallest ordered list of subtasks that can each be done on one screen flow.
A simple task has a single subtask equal to itself.
Reply as {"Subtasks": "<first>; <second>; ..."}.`,

	KindInquiry: `Answer the user's question directly and briefly in plain language.
Reply as {"Answer": "<answer>"}.`,
}

// Render builds the system and user prompts for req.
func Render(req Request) (system, user string) {
	body, ok := systemPrompts[req.Kind]
	if !ok {
		body = "Answer the request."
	}
	if req.Kind == KindAction {
		kinds := make([]string, len(models.UIActionKinds))
		for i, k := range models.UIActionKinds {
			kinds[i] = string(k)
		}
		body = fmt.Sprintf(body, quoteList(kinds))
	}
	system = preamble + "\n\n" + body

	var b strings.Builder
	section(&b, "Task", req.Task)
	section(&b, "Screen", req.Tree)
	section(&b, "History", req.History)
	if len(req.ExcludedElements) > 0 {
		ids := make([]string, len(req.ExcludedElements))
		for i, id := range req.ExcludedElements {
			ids[i] = fmt.Sprint(id)
		}
		section(&b, "Excluded elements", strings.Join(ids, ", "))
	}
	if len(req.Candidates) > 0 {
		section(&b, "Candidate packages", strings.Join(req.Candidates, "\n"))
	}
	if len(req.ExcludedApps) > 0 {
		section(&b, "Excluded packages", strings.Join(req.ExcludedApps, ", "))
	}
	for _, n := range req.Notes {
		section(&b, "Note", n)
	}
	return system, strings.TrimSpace(b.String())
}

func section(b *strings.Builder, title, content string) {
	content = strings.TrimSpace(content)
	if content == "" {
		return
	}
	fmt.Fprintf(b, "## %s\n%s\n\n", title, content)
}

func quoteList(items []string) string {
	q := make([]string, len(items))
	for i, s := range items {
		q[i] = fmt.Sprintf("%q", s)
	}
	return strings.Join(q, ", ")
}
