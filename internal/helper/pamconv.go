package helper

import (
	"github.com/msteinert/pam/v2"

	"github.com/polkit-go/polkitd/internal/pamproto"
)

// PAMConversation implements Conversation against the host's PAM stack
// through msteinert/pam, the same binding the pack's ubuntu-authd PAM
// module links against. That module is the module side of the stack
// (pam.ModuleTransaction, invoked by libpam); this is the opposite end, the
// application/transaction side that calls into libpam the way any
// privileged PAM client does.
type PAMConversation struct{}

func styleToKind(style pam.Style) pamproto.Kind {
	switch style {
	case pam.PromptEchoOff:
		return pamproto.PromptEchoOff
	case pam.PromptEchoOn:
		return pamproto.PromptEchoOn
	case pam.ErrorMsg:
		return pamproto.ErrorMsg
	default:
		return pamproto.TextInfo
	}
}

// Authenticate runs pam_authenticate then pam_acct_mgmt for userToAuth,
// routing every conversation message PAM produces through prompt, and
// returns the name PAM item PAM_USER holds once the conversation is done
// (a module along the stack may have remapped it from userToAuth).
func (PAMConversation) Authenticate(service, userToAuth string, prompt PromptFunc) (string, error) {
	tx, err := pam.StartFunc(service, userToAuth, func(style pam.Style, msg string) (string, error) {
		return prompt(pamproto.Message{Kind: styleToKind(style), Text: msg})
	})
	if err != nil {
		return "", err
	}
	if err := tx.Authenticate(pam.Flags(0)); err != nil {
		return "", err
	}
	if err := tx.AcctMgmt(pam.Flags(0)); err != nil {
		return "", err
	}
	return tx.GetItem(pam.User)
}
