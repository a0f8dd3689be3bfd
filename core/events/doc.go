// Package events defines the typed contract for messages arriving from the
// conversational backend over a protocol session.
//
// Wire messages carry a string discriminator; they are decoded exactly once,
// at the session boundary, into one of the closed event types below. Event
// kinds are grouped by sender-facing namespaces:
//
//   - tts.*
//   - stt.*
//   - llm.*
//   - mcp.*
//   - system.*
//   - alert.*
//   - custom.*
//
// tts events
//
//   - TtsStarted (tts.started): server began synthesizing a reply.
//   - TtsStopped (tts.stopped): server finished the current reply.
//   - TtsSentence (tts.sentence_started): a sentence of the reply is about
//     to be spoken; carries the sentence text.
//
// stt events
//
//   - SttResult (stt.final): the server's transcription of what the user
//     said.
//
// llm events
//
//   - LlmEmotion (llm.emotion_updated): emotion hint for the user-facing
//     surface.
//
// mcp events
//
//   - McpMessage (mcp.message): opaque MCP payload to be handed to the
//     registered MCP handler.
//
// system events
//
//   - SystemCommand (system.command): out-of-band device command, e.g.
//     "reboot".
//
// alert events
//
//   - AlertNotice (alert.raised): server-initiated user alert with status,
//     message and emotion.
//
// custom events
//
//   - CustomMessage (custom.payload): application-defined payload shown on
//     the user-facing surface.
package events
