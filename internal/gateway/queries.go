package gateway

const coreUserFragment = `
fragment CoreUser on User {
  username
  name
  webUrl
  avatarUrl
  bot
}
`

const extendedUserFragment = `
fragment ExtendedUser on User {
  ...CoreUser
  lastActivityOn
  location
  status {
    availability
    message
    emoji
  }
}
`

const coreMergeRequestFragment = `
fragment CoreMergeRequest on MergeRequest {
  iid
  webUrl
  title
  reference
  state
  sourceBranch
  targetBranch
  createdAt
  updatedAt
  mergedAt
  project {
    fullPath
  }
  labels {
    nodes {
      title
      color
      textColor
    }
  }
  assignees {
    nodes {
      ...CoreUser
    }
  }
  reviewers {
    nodes {
      ...ExtendedUser
      mergeRequestInteraction {
        approved
        reviewState
      }
    }
  }
  headPipeline {
    status
    path
    startedAt
    finishedAt
    finishedJobs: jobs(statuses: [SUCCESS, FAILED, CANCELED, SKIPPED]) {
      count
    }
    jobs {
      count
    }
  }
}
`

// OpenMergeRequestsQuery lists the author's open merge requests with the
// fields needed for status ornaments.
const OpenMergeRequestsQuery = `
query openMergeRequests($username: String!) {
  user(username: $username) {
    ...CoreUser
    mergeRequests: authoredMergeRequests(state: opened, sort: UPDATED_DESC) {
      nodes {
        ...CoreMergeRequest
        conflicts
        detailedMergeStatus
        approvalsLeft
        approved
      }
    }
  }
}
` + coreUserFragment + extendedUserFragment + coreMergeRequestFragment

// MergedMergeRequestsQuery lists the author's most recently merged requests.
const MergedMergeRequestsQuery = `
query mergedMergeRequests($username: String!, $first: Int!) {
  user(username: $username) {
    ...CoreUser
    mergeRequests: authoredMergeRequests(state: merged, sort: MERGED_AT_DESC, first: $first) {
      nodes {
        ...CoreMergeRequest
      }
    }
  }
}
` + coreUserFragment + extendedUserFragment + coreMergeRequestFragment

// ProjectIssuesQuery fetches the given issues of one project.
const ProjectIssuesQuery = `
query projectIssues($fullPath: ID!, $iids: [String!]) {
  project(fullPath: $fullPath) {
    issues(iids: $iids) {
      nodes {
        iid
        webUrl
        title
        state
        labels {
          nodes {
            title
            color
            textColor
          }
        }
      }
    }
  }
}
`

// ReviewerQuery fetches a reviewer profile and the merge requests currently
// awaiting their review.
const ReviewerQuery = `
query reviewer($username: String!) {
  user(username: $username) {
    ...ExtendedUser
    reviewRequestedMergeRequests(state: opened, first: 100) {
      nodes {
        approvedBy {
          nodes {
            username
          }
        }
      }
    }
  }
}
` + coreUserFragment + extendedUserFragment

// MonthlyMergedCountQuery counts merge requests merged since mergedAfter.
const MonthlyMergedCountQuery = `
query monthlyMergedCount($username: String!, $mergedAfter: Time!) {
  user(username: $username) {
    mergeRequests: authoredMergeRequests(state: merged, mergedAfter: $mergedAfter) {
      count
    }
  }
}
`
