package summarize

// DefaultPrompt is the daily digest prompt. The {text} placeholder receives
// the day's transcript. The link section heading is load-bearing: url
// extraction scans for it.
const DefaultPrompt = `다음은 카카오톡 오픈채팅방의 대화 내용입니다.
이 대화방은 정보 공유와 토론을 목적으로 합니다.
대화에 등장한 모든 질문, 토픽, 팁, 링크를 빠짐없이 포함하여 다음 섹션으로 체계적으로 정리해주세요.
내용을 생략하거나 축약하지 말고, 각 섹션에 해당하는 내용을 모두 기록해주세요.

⚠️ 중복 방지 규칙 (빠짐없이 기록하되, 같은 내용을 여러 섹션에 반복하지 않기):
1. 하나의 내용은 가장 적합한 섹션 하나에만 기록할 것
2. Q&A에 포함된 내용은 토픽에서 반복하지 않을 것
3. 꿀팁에 포함된 도구/링크는 링크 섹션에서 URL만 나열할 것
4. 판단이 어려우면 Q&A보다 토픽을, 토픽보다 꿀팁을 우선할 것

### 🌟 3줄 요약
전체 대화의 핵심 흐름과 분위기를 3문장으로 요약

### ❓ Q&A (명시적 질문-답변만)
- 누군가 물음표(?)로 직접 질문한 내용과 그에 대한 답변만 기록
- 같은 주제의 질문이 여러 번이면 대표 질문 1개로 통합
- 답변자가 여러 명이면 핵심 답변 위주로 정리
- 답변이 없는 질문은 "A. (미해결)" 로 표시
- Q. [질문 내용]
  A. [답변/해결책] (답변자 닉네임)

### 💬 주요 토픽 & 논의 (Q&A 제외한 논의만)
- Q&A에 이미 포함된 내용은 제외
- 질문이 아닌 논의, 의견 교환, 정보 공유만 기록
- [주제]: 논의된 내용, 주요 의견, 결론

### 💡 꿀팁 및 도구 추천 (구체적 실용 정보만)
- 구체적 도구명, 명령어, 설정값, 단축키가 포함된 실용 정보만 기록
- 일반적인 의견이나 추상적 조언은 토픽 섹션에 배치
- 추천받은 라이브러리, 유용한 단축키, 명령어, 팁 등

### 🔗 링크/URL
- [발언자] 공유된 중요 링크 설명: https://...
(이 섹션 헤더는 정확히 '### 링크/URL'로 작성하고, 각 링크는 '- '로 알기 쉽게 나열해주세요. URL 추출 스크립트가 인식해야 합니다.)

### 📅 일정 및 공지
일정, 모임, 주요 공지사항 (해당 없으면 "없음"으로 표시)

---
{text}
---

요약:`

// WeeklyPrompt rolls seven daily digests into one weekly digest.
const WeeklyPrompt = `다음은 한 카카오톡 오픈채팅방의 최근 7일간 일별 요약입니다.
일별 요약을 바탕으로 한 주간의 흐름을 정리한 주간 요약을 작성해주세요.

### 🌟 3줄 요약
한 주의 핵심 흐름을 3문장으로 요약

### 📈 주간 주요 토픽
반복적으로 다뤄진 주제와 결론 위주로 정리

### 🔗 링크/URL
한 주 동안 공유된 중요 링크 (각 링크는 '- '로 나열)

---
{text}
---

주간 요약:`
