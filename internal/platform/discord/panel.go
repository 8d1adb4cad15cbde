package discord

import (
	"strings"

	"github.com/bwmarrin/discordgo"

	"github.com/xela07ax/repbot/internal/domain"
	"github.com/xela07ax/repbot/internal/reconcile"
)

const (
	panelCommandName  = "url"
	statusCheckButton = "status_check_button"
	panelEmbedColor   = 0x020405
)

var panelCommand = &discordgo.ApplicationCommand{
	Name:        panelCommandName,
	Description: "Enviar informações sobre representante",
}

func panelMessage(marker string) *discordgo.InteractionResponseData {
	return &discordgo.InteractionResponseData{
		Embeds: []*discordgo.MessageEmbed{{
			Title: "_**SEJA REPRESENTANTE**_",
			Description: "adicione a url _**" + marker + "**_ na sua barra de status personalizado e libere os seguintes recursos:\n\n" +
				"• mover membros (mov call): permite que você transfira outros usuários entre os canais de voz.\n" +
				"• silenciar (mutar): confere a você a permissão de mutar membros nos canais de voz.\n\n" +
				"_**importante:**_ o uso indevido desses comandos resultará em punição.",
			Color: panelEmbedColor,
		}},
		Components: []discordgo.MessageComponent{
			discordgo.ActionsRow{Components: []discordgo.MessageComponent{
				discordgo.Button{
					Label:    panelCommandName,
					Style:    discordgo.SecondaryButton,
					CustomID: statusCheckButton,
				},
			}},
		},
	}
}

const (
	replyWrongChannel = "❌ Este comando só pode ser usado em um canal específico."
	replyNoMember     = "❌ Não foi possível encontrar suas informações. Tente novamente."
	replyFailed       = "❌ Não foi possível atualizar seu cargo agora. Tente novamente mais tarde."
	replyGranted      = "✅ **Parabéns!** Você recebeu o cargo de representante! 🎉\n" +
		"Agora você pode mover membros e silenciar nos canais de voz."
	replyAlreadyHas = "ℹ️ Você já possui o cargo de representante!"
)

func replyMarkerMissing(marker string) string {
	return strings.Join([]string{
		"❌ **Não encontrado!**",
		"Adicione **" + marker + "** na sua barra de status personalizado e tente novamente.",
		"",
		"**Como fazer:**",
		"1. Clique no seu perfil",
		"2. Defina um status personalizado",
		"3. Digite **" + marker + "** no campo de texto",
		"4. Clique novamente no botão",
	}, "\n")
}

// statusReply — ответ на нажатие кнопки по результату немедленной оценки.
func statusReply(out reconcile.Outcome, err error, marker string) string {
	switch {
	case err != nil:
		return replyFailed
	case out.Action == domain.ActionGrant:
		return replyGranted
	case out.HasMarker && out.HasRole:
		return replyAlreadyHas
	default:
		return replyMarkerMissing(marker)
	}
}
