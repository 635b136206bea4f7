package tools

import (
	"context"

	"polaris/internal/mail"
)

// RegisterMailTools registers the triage analysis and mailbox
// operation tools. analyzer or service may be nil when mail is not
// configured; the tools then report unavailability in their payloads.
func RegisterMailTools(r *Registry, analyzer *mail.Analyzer, service *mail.Service) {
	emailProps := map[string]Property{
		"subject": {Type: "string", Description: "Email subject line"},
		"sender":  {Type: "string", Description: "Sender email address or name"},
		"content": {Type: "string", Description: "Email body text"},
		"date":    {Type: "string", Description: "Email date string"},
		"account": {Type: "string", Description: "Email account (e.g. 'UIC', 'Gmail')"},
	}

	r.MustRegister(&Tool{
		Name:        "analyze_emails",
		Description: "이메일 일괄 분석. ACTION/FYI 분류, 한국어 요약. NOT for: 논문, 일정.",
		Category:    CategoryMail,
		Schema: Schema{
			Required: []string{"emails"},
			Properties: map[string]Property{
				"emails": {
					Type:        "array",
					Description: "List of email objects to analyze",
					Items:       &PropertyItems{Type: "object"},
				},
			},
		},
		Execute: func(ctx context.Context, args map[string]any) (string, error) {
			if analyzer == nil {
				return errorJSON("mail analyzer unavailable"), nil
			}
			raw, ok := args["emails"].([]any)
			if !ok {
				return errorJSON("emails must be an array"), nil
			}
			mails := make([]mail.Message, 0, len(raw))
			for _, item := range raw {
				obj, ok := item.(map[string]any)
				if !ok {
					continue
				}
				mails = append(mails, messageFromArgs(obj))
			}
			results := analyzer.AnalyzeBatch(ctx, mails)
			return okJSON(map[string]any{"results": results, "count": len(results)}), nil
		},
	})

	r.MustRegister(&Tool{
		Name:        "analyze_single_email",
		Description: "단일 이메일 분석. ACTION/FYI 분류, 한국어 요약.",
		Category:    CategoryMail,
		Schema: Schema{
			Required:   []string{"subject", "sender", "content", "date", "account"},
			Properties: emailProps,
		},
		Execute: func(ctx context.Context, args map[string]any) (string, error) {
			if analyzer == nil {
				return errorJSON("mail analyzer unavailable"), nil
			}
			return okJSON(analyzer.Analyze(ctx, messageFromArgs(args))), nil
		},
	})

	digestTool := func(name, description, category string) *Tool {
		return &Tool{
			Name:        name,
			Description: description,
			Category:    CategoryMail,
			Schema: Schema{
				Required: []string{},
				Properties: map[string]Property{
					"limit":      {Type: "integer", Description: "Max rows (default: 20)"},
					"sync_first": {Type: "boolean", Description: "Sync unread mail before query"},
				},
			},
			Execute: func(ctx context.Context, args map[string]any) (string, error) {
				if service == nil {
					return errorJSON("mail service unavailable"), nil
				}
				limit := IntArg(args, "limit", 20)
				sync := map[string]any{"status": "skipped"}
				if BoolArg(args, "sync_first", true) {
					res, err := service.SyncUnread(ctx, 20)
					if err != nil {
						return errorJSON("sync failed: " + err.Error()), nil
					}
					sync = map[string]any{
						"fetched": res.Fetched, "inserted": res.Inserted, "urgent_new": res.UrgentNew,
					}
				}
				var rows []mail.DigestRow
				var err error
				switch category {
				case "urgent":
					rows, err = service.Urgent(ctx, limit)
				case "promo":
					rows, err = service.Promo(ctx, limit)
				default:
					rows, err = service.Digest(ctx, limit)
				}
				if err != nil {
					return errorJSON("query failed: " + err.Error()), nil
				}
				return okJSON(map[string]any{"sync": sync, "items": rows, "count": len(rows)}), nil
			},
		}
	}

	r.MustRegister(digestTool("fetch_mail_digest", "통합 메일 요약 조회 (전체 계정).", ""))
	r.MustRegister(digestTool("fetch_urgent_mails", "urgent 카테고리 메일 조회.", "urgent"))
	r.MustRegister(digestTool("fetch_promo_deals", "promo(딜/프로모션) 메일 조회.", "promo"))

	r.MustRegister(&Tool{
		Name:        "propose_mail_actions",
		Description: "메일 액션 제안 생성 (archive/label/mark_read).",
		Category:    CategoryMail,
		Schema: Schema{
			Required: []string{},
			Properties: map[string]Property{
				"target": {Type: "string", Description: "promo|urgent|all"},
				"limit":  {Type: "integer", Description: "Max proposals"},
			},
		},
		Execute: func(ctx context.Context, args map[string]any) (string, error) {
			if service == nil {
				return errorJSON("mail service unavailable"), nil
			}
			target := StringArg(args, "target")
			if target == "" {
				target = "promo"
			}
			proposals, err := service.ProposeActions(ctx, target, IntArg(args, "limit", 20))
			if err != nil {
				return errorJSON("propose failed: " + err.Error()), nil
			}
			return okJSON(map[string]any{"target": target, "proposals": proposals, "count": len(proposals)}), nil
		},
	})

	r.MustRegister(&Tool{
		Name:        "execute_mail_actions",
		Description: "안전 메일 액션 실행 (archive/label/mark_read). 삭제는 미지원.",
		Category:    CategoryMail,
		Schema: Schema{
			Required: []string{"action", "message_ids"},
			Properties: map[string]Property{
				"action": {Type: "string", Description: "archive|label|mark_read"},
				"message_ids": {Type: "array", Description: "Target ext_id list",
					Items: &PropertyItems{Type: "string"}},
				"label": {Type: "string", Description: "Label name for label action"},
			},
		},
		Execute: func(ctx context.Context, args map[string]any) (string, error) {
			if service == nil {
				return errorJSON("mail service unavailable"), nil
			}
			res, err := service.ExecuteActions(ctx,
				StringArg(args, "action"),
				StringListArg(args, "message_ids"),
				StringArg(args, "label"))
			if err != nil {
				return errorJSON("execute failed: " + err.Error()), nil
			}
			return okJSON(res), nil
		},
	})
}

func messageFromArgs(obj map[string]any) mail.Message {
	return mail.Normalize(mail.Message{
		AccountID:   StringArg(obj, "account"),
		Sender:      StringArg(obj, "sender"),
		Subject:     StringArg(obj, "subject"),
		BodyPreview: StringArg(obj, "content"),
		ReceivedAt:  StringArg(obj, "date"),
	}, StringArg(obj, "account"))
}
