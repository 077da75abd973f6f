package episode

import (
	"regexp"

	"github.com/jbarnes850/opensec-env/pkg/evidence"
	"github.com/jbarnes850/opensec-env/pkg/models"
)

var alertFieldRe = regexp.MustCompile(`([a-zA-Z_]+)=([a-zA-Z0-9_.:@-]+)`)

// applyAction executes one defender action against episode state and
// returns the result payload. Defender mistakes (bad SQL, missing
// params) come back as ok=false payloads, never as errors; the episode
// continues either way.
func (c *Controller) applyAction(action models.AgentAction) map[string]any {
	switch action.ActionType {
	case models.ActionIsolateHost:
		hostID := action.Param("host_id")
		if hostID != "" && !containsStr(c.containment.IsolatedHosts, hostID) {
			c.containment.IsolatedHosts = append(c.containment.IsolatedHosts, hostID)
		}
		return map[string]any{"ok": true, "isolated_host": hostID}

	case models.ActionBlockDomain:
		domain := action.Param("domain")
		if domain != "" && !containsStr(c.containment.BlockedDomains, domain) {
			c.containment.BlockedDomains = append(c.containment.BlockedDomains, domain)
		}
		return map[string]any{"ok": true, "blocked_domain": domain}

	case models.ActionResetUser:
		userID := action.Param("user_id")
		if userID != "" && !containsStr(c.containment.ResetUsers, userID) {
			c.containment.ResetUsers = append(c.containment.ResetUsers, userID)
		}
		return map[string]any{"ok": true, "reset_user": userID}

	case models.ActionQueryLogs:
		sql := action.Param("sql")
		if !evidence.IsReadOnlySelect(sql) {
			return map[string]any{"ok": false, "error": "only SELECT queries are allowed"}
		}
		rows, err := c.store.Query(sql)
		if err != nil {
			return map[string]any{"ok": false, "error": err.Error()}
		}
		c.recordContentEvidenceFromRows(rows)
		return map[string]any{"ok": true, "rows": rows}

	case models.ActionFetchEmail:
		emailID := action.Param("email_id")
		if emailID == "" {
			return map[string]any{"ok": false, "error": "email_id required"}
		}
		c.contentEvidenceIDs[emailID] = true
		email, err := c.store.FetchEmail(c.scenario.ScenarioID, emailID)
		if err != nil {
			return map[string]any{"ok": false, "error": err.Error()}
		}
		return map[string]any{"ok": true, "email_id": emailID, "email": email}

	case models.ActionFetchAlert:
		alertID := action.Param("alert_id")
		if alertID == "" {
			return map[string]any{"ok": false, "error": "alert_id required"}
		}
		c.contentEvidenceIDs[alertID] = true
		alert, err := c.store.FetchAlert(c.scenario.ScenarioID, alertID)
		if err != nil {
			return map[string]any{"ok": false, "error": err.Error()}
		}
		parsed := map[string]string{}
		if alert != nil {
			if msg, ok := alert["message"].(string); ok {
				parsed = parseAlertFields(msg)
			}
		}
		return map[string]any{"ok": true, "alert_id": alertID, "alert": alert, "parsed": parsed}
	}
	return map[string]any{"ok": true}
}

// parseAlertFields extracts k=v pairs from an alert message so agents
// can read entities without string-munging the raw body.
func parseAlertFields(message string) map[string]string {
	parsed := map[string]string{}
	for _, m := range alertFieldRe.FindAllStringSubmatch(message, -1) {
		parsed[m[1]] = m[2]
	}
	return parsed
}

// recordContentEvidenceFromRows marks any row whose ID column is present
// in a SELECT result as content-exposed; reading a row's content is what
// arms injection detection against it.
func (c *Controller) recordContentEvidenceFromRows(rows []map[string]any) {
	idColumns := []string{"email_id", "alert_id", "auth_id", "flow_id", "event_id"}
	for _, row := range rows {
		for _, col := range idColumns {
			if v, ok := row[col]; ok {
				if id, ok := v.(string); ok && id != "" {
					c.contentEvidenceIDs[id] = true
				}
			}
		}
	}
}

func containsStr(list []string, v string) bool {
	for _, item := range list {
		if item == v {
			return true
		}
	}
	return false
}
